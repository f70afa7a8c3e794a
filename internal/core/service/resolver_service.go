package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rl1809/inventory-scan/internal/core/domain"
	"github.com/rl1809/inventory-scan/internal/port"
)

type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyDelimited Strategy = "delimited"
	StrategyScanCode  Strategy = "scan_code"
	StrategyIndex     Strategy = "index"
	StrategyScan      Strategy = "scan"
)

const (
	DefaultScanBatchSize     = 100
	DefaultScanMaxIterations = 50
	DefaultScanTimeout       = 2 * time.Second
)

// Resolution is a successful scan lookup.
type Resolution struct {
	Record   domain.InventoryRecord
	Key      string
	Strategy Strategy
	Verified bool
}

type ResolverConfig struct {
	ScanBatchSize     int64
	ScanMaxIterations int
	ScanTimeout       time.Duration
}

type ResolverService struct {
	store      port.RecordStore
	normalizer *Normalizer
	cfg        ResolverConfig
	logger     *slog.Logger
}

func NewResolverService(store port.RecordStore, normalizer *Normalizer, cfg ResolverConfig, logger *slog.Logger) *ResolverService {
	if cfg.ScanBatchSize <= 0 {
		cfg.ScanBatchSize = DefaultScanBatchSize
	}
	if cfg.ScanMaxIterations <= 0 {
		cfg.ScanMaxIterations = DefaultScanMaxIterations
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolverService{
		store:      store,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     logger,
	}
}

// Resolve maps raw scan input to a single stored record. Strategies run in a
// fixed order and the first hit wins. A nil Resolution with a nil error means
// nothing matched. Store failures are returned wrapped in ErrStoreUnavailable.
func (s *ResolverService) Resolve(ctx context.Context, raw string) (*Resolution, error) {
	working := strings.TrimSpace(raw)
	if looksLikeURL(working) {
		var trusted bool
		working, trusted = s.normalizer.UnwrapURL(working)
		if !trusted {
			s.logger.DebugContext(ctx, "scan url host not in public hosts", "input", raw)
		}
	}
	if working == "" {
		return nil, nil
	}

	normalized := s.normalizer.Standardize(working)

	res, err := s.lookup(ctx, normalized, StrategyDirect)
	if res != nil || err != nil {
		return s.finish(ctx, raw, res, err)
	}

	if strings.Contains(normalized, domain.KeyDelimiter) {
		for _, part := range strings.Split(normalized, domain.KeyDelimiter) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			res, err = s.lookup(ctx, part, StrategyDelimited)
			if res != nil || err != nil {
				return s.finish(ctx, raw, res, err)
			}
		}
	}

	identifier, _, ok := s.normalizer.ExtractIdentifier(working)
	if !ok {
		return s.finish(ctx, raw, nil, nil)
	}

	if isScanCode(identifier) {
		res, err = s.lookupScanCode(ctx, identifier)
		if res != nil || err != nil {
			return s.finish(ctx, raw, res, err)
		}
	}

	res, err = s.lookupPointer(ctx, domain.IndexKey(identifier), StrategyIndex)
	if res != nil || err != nil {
		return s.finish(ctx, raw, res, err)
	}

	res, err = s.scanForIdentifier(ctx, identifier)
	return s.finish(ctx, raw, res, err)
}

// Lookup fetches the record stored under an exact key and reports whether its
// codes still verify. A nil Resolution means no record lives at key.
func (s *ResolverService) Lookup(ctx context.Context, key string) (*Resolution, error) {
	res, err := s.lookup(ctx, key, StrategyDirect)
	if err != nil || res == nil {
		return nil, err
	}
	res.Verified = VerifyCodeRelationship(res.Record)
	return res, nil
}

func (s *ResolverService) finish(ctx context.Context, raw string, res *Resolution, err error) (*Resolution, error) {
	if err != nil {
		s.logger.ErrorContext(ctx, "resolve failed", "input", raw, "error", err)
		return nil, err
	}
	if res == nil {
		s.logger.InfoContext(ctx, "scan not resolved", "input", raw)
		return nil, nil
	}

	res.Verified = VerifyCodeRelationship(res.Record)
	if !res.Verified {
		s.logger.WarnContext(ctx, "verification code mismatch",
			"key", res.Key, "id", res.Record.ID, "scan_code", res.Record.ScanCode)
	}
	s.logger.DebugContext(ctx, "scan resolved", "input", raw, "key", res.Key, "strategy", res.Strategy)
	return res, nil
}

// lookup fetches key and accepts it only if it decodes as a record.
func (s *ResolverService) lookup(ctx context.Context, key string, strategy Strategy) (*Resolution, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", ErrStoreUnavailable, key, err)
	}
	if data == nil {
		return nil, nil
	}

	rec, err := domain.DecodeRecord(data)
	if err != nil {
		s.logger.DebugContext(ctx, "skipping malformed entry", "key", key, "error", err)
		return nil, nil
	}

	return &Resolution{Record: rec, Key: key, Strategy: strategy}, nil
}

// lookupPointer follows an index or claim entry to the record key it holds.
func (s *ResolverService) lookupPointer(ctx context.Context, pointerKey string, strategy Strategy) (*Resolution, error) {
	target, err := s.store.Get(ctx, pointerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %w", ErrStoreUnavailable, pointerKey, err)
	}
	if len(target) == 0 {
		return nil, nil
	}
	return s.lookup(ctx, string(target), strategy)
}

// lookupScanCode resolves a printed scan code through its claim entry. The
// record found must still carry that code.
func (s *ResolverService) lookupScanCode(ctx context.Context, code string) (*Resolution, error) {
	res, err := s.lookupPointer(ctx, domain.ScanCodeKey(code), StrategyScanCode)
	if err != nil || res == nil {
		return nil, err
	}
	if res.Record.ScanCode != code {
		s.logger.DebugContext(ctx, "scan code claim points at another record", "scan_code", code, "key", res.Key)
		return nil, nil
	}
	return res, nil
}

func isScanCode(s string) bool {
	if len(s) != ScanCodeLength {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// scanForIdentifier walks the key space with a bounded cursor scan. Among the
// keys seen, the lexicographically smallest one whose record carries the
// identifier wins. Hitting the time budget ends the scan as a miss.
func (s *ResolverService) scanForIdentifier(ctx context.Context, identifier string) (*Resolution, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	pattern := "*" + escapeGlob(identifier) + "*"
	seen := make(map[string]struct{})
	var cursor uint64

	for i := 0; i < s.cfg.ScanMaxIterations; i++ {
		next, keys, err := s.store.Scan(scanCtx, cursor, pattern, s.cfg.ScanBatchSize)
		if err != nil {
			if errors.Is(scanCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "wildcard scan hit time budget", "identifier", identifier, "iterations", i)
				break
			}
			return nil, fmt.Errorf("%w: scan %q: %w", ErrStoreUnavailable, pattern, err)
		}
		for _, k := range keys {
			if !domain.IsAuxiliaryKey(k) {
				seen[k] = struct{}{}
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	candidates := make([]string, 0, len(seen))
	for k := range seen {
		candidates = append(candidates, k)
	}
	sort.Strings(candidates)

	for _, key := range candidates {
		res, err := s.lookup(ctx, key, StrategyScan)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Record.HasIdentifier(identifier) {
			return res, nil
		}
	}
	return nil, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
