package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/inventory-scan/internal/core/domain"
	"github.com/rl1809/inventory-scan/internal/core/service"
)

const (
	ScanServiceName = "inventory.v1.ScanService"
	// JSONContentSubtype is the codec name clients pass to
	// grpc.CallContentSubtype.
	JSONContentSubtype = "json"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return JSONContentSubtype }

type ResolveRequest struct {
	Input string `json:"input"`
}

type ResolveResponse struct {
	Found    bool                    `json:"found"`
	Message  string                  `json:"message,omitempty"`
	Key      string                  `json:"key,omitempty"`
	Strategy string                  `json:"strategy,omitempty"`
	Verified bool                    `json:"verified"`
	Record   *domain.InventoryRecord `json:"record,omitempty"`
}

type VerifyRequest struct {
	Key string `json:"key"`
}

type VerifyResponse struct {
	Found            bool   `json:"found"`
	ScanCode         string `json:"scan_code,omitempty"`
	VerificationCode string `json:"verification_code,omitempty"`
	Verified         bool   `json:"verified"`
}

type RegisterRequest struct {
	ID          string          `json:"id"`
	Category    domain.Category `json:"category"`
	ProductID   string          `json:"product_id"`
	InventoryID string          `json:"inventory_id"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	Notes       string          `json:"notes"`
}

type RegisterResponse struct {
	Key    string                  `json:"key"`
	Record *domain.InventoryRecord `json:"record"`
}

type ScanServiceServer interface {
	Resolve(context.Context, *ResolveRequest) (*ResolveResponse, error)
	Verify(context.Context, *VerifyRequest) (*VerifyResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
}

var ScanServiceDesc = grpc.ServiceDesc{
	ServiceName: ScanServiceName,
	HandlerType: (*ScanServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: unaryHandler("Resolve", ScanServiceServer.Resolve)},
		{MethodName: "Verify", Handler: unaryHandler("Verify", ScanServiceServer.Verify)},
		{MethodName: "Register", Handler: unaryHandler("Register", ScanServiceServer.Register)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/scan",
}

func unaryHandler[Req, Resp any](method string, call func(ScanServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ScanServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScanServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ScanServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func RegisterScanServiceServer(s grpc.ServiceRegistrar, srv ScanServiceServer) {
	s.RegisterService(&ScanServiceDesc, srv)
}

// ScanServiceClient calls the scan service with the JSON codec.
type ScanServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewScanServiceClient(cc grpc.ClientConnInterface) *ScanServiceClient {
	return &ScanServiceClient{cc: cc}
}

func (c *ScanServiceClient) Resolve(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error) {
	out := new(ResolveResponse)
	if err := c.invoke(ctx, "Resolve", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ScanServiceClient) Verify(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (*VerifyResponse, error) {
	out := new(VerifyResponse)
	if err := c.invoke(ctx, "Verify", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ScanServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	out := new(RegisterResponse)
	if err := c.invoke(ctx, "Register", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ScanServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONContentSubtype)}, opts...)
	return c.cc.Invoke(ctx, "/"+ScanServiceName+"/"+method, in, out, opts...)
}

type GRPCHandler struct {
	resolver       *service.ResolverService
	registration   *service.RegistrationService
	rejectTampered bool
	logger         *slog.Logger
}

func NewGRPCHandler(resolver *service.ResolverService, registration *service.RegistrationService, rejectTampered bool, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCHandler{
		resolver:       resolver,
		registration:   registration,
		rejectTampered: rejectTampered,
		logger:         logger,
	}
}

func (h *GRPCHandler) Resolve(ctx context.Context, req *ResolveRequest) (*ResolveResponse, error) {
	if req.Input == "" {
		return nil, status.Error(codes.InvalidArgument, "input is required")
	}

	res, err := h.resolver.Resolve(ctx, req.Input)
	if err != nil {
		return nil, h.grpcError(ctx, "Resolve", err)
	}
	if res == nil {
		return &ResolveResponse{Found: false, Message: notFoundHint}, nil
	}
	if !res.Verified && h.rejectTampered {
		h.logger.WarnContext(ctx, "rejected tampered record", "key", res.Key, "input", req.Input)
		return nil, status.Errorf(codes.FailedPrecondition, "verification code mismatch for %s", res.Key)
	}

	return &ResolveResponse{
		Found:    true,
		Key:      res.Key,
		Strategy: string(res.Strategy),
		Verified: res.Verified,
		Record:   &res.Record,
	}, nil
}

func (h *GRPCHandler) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	res, err := h.resolver.Lookup(ctx, req.Key)
	if err != nil {
		return nil, h.grpcError(ctx, "Verify", err)
	}
	if res == nil {
		return &VerifyResponse{Found: false}, nil
	}
	return &VerifyResponse{
		Found:            true,
		ScanCode:         res.Record.ScanCode,
		VerificationCode: res.Record.VerificationCode,
		Verified:         res.Verified,
	}, nil
}

func (h *GRPCHandler) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	rec, key, err := h.registration.Register(ctx, domain.InventoryRecord{
		ID:                  req.ID,
		Category:            req.Category,
		ProductIdentifier:   req.ProductID,
		InventoryIdentifier: req.InventoryID,
		Name:                req.Name,
		Quantity:            req.Quantity,
		Notes:               req.Notes,
	})
	if err != nil {
		return nil, h.grpcError(ctx, "Register", err)
	}
	return &RegisterResponse{Key: key, Record: rec}, nil
}

// grpcError maps a service error to a status with a fixed message. Store and
// parsing details only go to the log.
func (h *GRPCHandler) grpcError(ctx context.Context, method string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidRecord):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrDuplicateRecord):
		return status.Error(codes.AlreadyExists, "record already exists")
	case errors.Is(err, domain.ErrRecordNotFound):
		return status.Error(codes.NotFound, "record not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, service.ErrQueueClosed):
		return status.Error(codes.Unavailable, "service shutting down")
	}

	h.logger.ErrorContext(ctx, "grpc request failed", "method", method, "error", err)
	switch {
	case errors.Is(err, service.ErrCodeCollision):
		return status.Error(codes.Unavailable, "could not allocate a unique scan code, retry")
	case errors.Is(err, service.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
