package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/inventory-scan/internal/core/domain"
	"github.com/rl1809/inventory-scan/internal/port"
)

const (
	DefaultMaxCodeAttempts = 8

	keyLockStripes = 64
)

var identifierFormat = regexp.MustCompile(`^[A-Z]{3}\d+$`)

type PersistOp string

const (
	PersistCreate PersistOp = "create"
	PersistUpdate PersistOp = "update"
	PersistDelete PersistOp = "delete"
)

// PersistJob carries a store change to the relational write-behind workers.
type PersistJob struct {
	Op     PersistOp
	Key    string
	Record domain.InventoryRecord
}

type RegistrationService struct {
	store       port.RecordStore
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time

	// keyLocks serialize the store write and the enqueue of every change to
	// one record key, so jobs for a key reach the queue in store order.
	keyLocks [keyLockStripes]sync.Mutex

	jobs      chan PersistJob
	queueMu   sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistrationService(store port.RecordStore, maxAttempts, queueSize int, logger *slog.Logger) *RegistrationService {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxCodeAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationService{
		store:       store,
		jobs:        make(chan PersistJob, queueSize),
		done:        make(chan struct{}),
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register assigns linked codes to rec, reserves them, and stores the record
// under its key together with its identifier index entries. On a code
// collision the record is re-keyed with a fresh id and retried, up to the
// configured attempt limit.
func (s *RegistrationService) Register(ctx context.Context, rec domain.InventoryRecord) (*domain.InventoryRecord, string, error) {
	if err := validateNew(&rec); err != nil {
		return nil, "", err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Version = 0
	key := domain.RecordKey(rec)
	// Cleanup after a failed step must run even if ctx is already done
	cleanupCtx := context.WithoutCancel(ctx)

	claimed := false
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		codes, err := GenerateLinkedCodes(&rec)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", domain.ErrInvalidRecord, err)
		}

		ok, err := s.store.ClaimCodes(ctx, codes, key)
		if err != nil {
			return nil, "", fmt.Errorf("%w: claim codes: %w", ErrStoreUnavailable, err)
		}
		if ok {
			claimed = true
			break
		}

		s.logger.WarnContext(ctx, "scan code collision, regenerating",
			"attempt", attempt, "id", rec.ID, "scan_code", codes.ScanCode)
		rec.ID = uuid.NewString()
	}
	if !claimed {
		return nil, "", fmt.Errorf("%w after %d attempts", ErrCodeCollision, s.maxAttempts)
	}
	rec.UpdatedAt = rec.CreatedAt

	unlock := s.lockKey(key)
	defer unlock()

	data, err := domain.EncodeRecord(rec)
	if err != nil {
		s.releaseCodes(cleanupCtx, rec, key)
		return nil, "", fmt.Errorf("encode record: %w", err)
	}

	ok, err := s.store.SetNX(ctx, key, data)
	if err != nil {
		s.releaseCodes(cleanupCtx, rec, key)
		return nil, "", fmt.Errorf("%w: set record: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		s.releaseCodes(cleanupCtx, rec, key)
		return nil, "", fmt.Errorf("%w: %s", domain.ErrDuplicateRecord, key)
	}

	for _, id := range rec.Identifiers() {
		written, err := s.store.SetNX(ctx, domain.IndexKey(id), []byte(key))
		if err != nil {
			s.purge(cleanupCtx, key, &rec)
			return nil, "", fmt.Errorf("%w: index %s: %w", ErrStoreUnavailable, id, err)
		}
		if !written {
			s.logger.DebugContext(ctx, "identifier already indexed", "identifier", id, "key", key)
		}
	}

	if err := s.enqueue(ctx, PersistJob{Op: PersistCreate, Key: key, Record: rec}); err != nil {
		s.purge(cleanupCtx, key, &rec)
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "record registered", "key", key, "id", rec.ID, "scan_code", rec.ScanCode)
	return &rec, key, nil
}

// Update applies patch to the record at key. Identity and code fields are
// never touched.
func (s *RegistrationService) Update(ctx context.Context, key string, patch domain.RecordPatch) (*domain.InventoryRecord, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || strings.Contains(name, domain.KeyDelimiter) {
			return nil, fmt.Errorf("%w: name must be non-empty and must not contain %q", domain.ErrInvalidRecord, domain.KeyDelimiter)
		}
		patch.Name = &name
	}
	if patch.Quantity != nil && *patch.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidRecord)
	}

	unlock := s.lockKey(key)
	defer unlock()

	var updated domain.InventoryRecord
	err := s.store.Update(ctx, key, func(current []byte) ([]byte, error) {
		rec, err := domain.DecodeRecord(current)
		if err != nil {
			return nil, err
		}
		patch.Apply(&rec)
		rec.Version++
		rec.UpdatedAt = s.now()
		updated = rec
		return domain.EncodeRecord(rec)
	})
	switch {
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrMalformedEntry), errors.Is(err, domain.ErrOptimisticLock):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: update %q: %w", ErrStoreUnavailable, key, err)
	}

	if err := s.enqueue(ctx, PersistJob{Op: PersistUpdate, Key: key, Record: updated}); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the record at key along with the index and code entries that
// still point at it.
func (s *RegistrationService) Delete(ctx context.Context, key string) error {
	unlock := s.lockKey(key)
	defer unlock()

	data, err := s.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: get %q: %w", ErrStoreUnavailable, key, err)
	}
	if data == nil {
		return domain.ErrRecordNotFound
	}

	rec, err := domain.DecodeRecord(data)
	if err != nil {
		s.logger.WarnContext(ctx, "deleting malformed entry", "key", key, "error", err)
		if err := s.store.Del(ctx, key); err != nil {
			return fmt.Errorf("%w: delete %q: %w", ErrStoreUnavailable, key, err)
		}
		return nil
	}

	if err := s.purge(ctx, key, &rec); err != nil {
		return err
	}
	if rec.ID == "" {
		return nil
	}
	return s.enqueue(ctx, PersistJob{Op: PersistDelete, Key: key, Record: rec})
}

// Rollback undoes the store side of a create that could not be persisted.
func (s *RegistrationService) Rollback(ctx context.Context, job PersistJob) error {
	if job.Op != PersistCreate {
		return nil
	}
	return s.purge(ctx, job.Key, &job.Record)
}

func (s *RegistrationService) Jobs() <-chan PersistJob {
	return s.jobs
}

// Close stops accepting jobs and closes the queue once no enqueue is in
// flight. Later writes fail with ErrQueueClosed. Safe to call more than once.
func (s *RegistrationService) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.queueMu.Lock()
		s.closed = true
		close(s.jobs)
		s.queueMu.Unlock()
	})
}

func (s *RegistrationService) enqueue(ctx context.Context, job PersistJob) error {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		return fmt.Errorf("enqueue %s job: %w", job.Op, ErrQueueClosed)
	}

	select {
	case s.jobs <- job:
		return nil
	case <-s.done:
		return fmt.Errorf("enqueue %s job: %w", job.Op, ErrQueueClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s job: %w", job.Op, ctx.Err())
	}
}

func (s *RegistrationService) lockKey(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &s.keyLocks[h.Sum32()%keyLockStripes]
	mu.Lock()
	return mu.Unlock
}

// purge deletes key and every auxiliary entry of rec that still points at key.
func (s *RegistrationService) purge(ctx context.Context, key string, rec *domain.InventoryRecord) error {
	owned, err := s.ownedEntries(ctx, key, auxiliaryKeys(*rec, true))
	if err != nil {
		return err
	}
	if err := s.store.Del(ctx, append(owned, key)...); err != nil {
		return fmt.Errorf("%w: delete %q: %w", ErrStoreUnavailable, key, err)
	}
	return nil
}

// releaseCodes drops the code claims rec holds for key, leaving key itself.
func (s *RegistrationService) releaseCodes(ctx context.Context, rec domain.InventoryRecord, key string) {
	owned, err := s.ownedEntries(ctx, key, auxiliaryKeys(rec, false))
	if err == nil {
		err = s.store.Del(ctx, owned...)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to release code claims", "key", key, "error", err)
	}
}

func (s *RegistrationService) ownedEntries(ctx context.Context, key string, candidates []string) ([]string, error) {
	var owned []string
	for _, k := range candidates {
		target, err := s.store.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("%w: get %q: %w", ErrStoreUnavailable, k, err)
		}
		if string(target) == key {
			owned = append(owned, k)
		}
	}
	return owned, nil
}

func auxiliaryKeys(rec domain.InventoryRecord, withIndexes bool) []string {
	keys := make([]string, 0, 4)
	if withIndexes {
		for _, id := range rec.Identifiers() {
			keys = append(keys, domain.IndexKey(id))
		}
	}
	if rec.ScanCode != "" {
		keys = append(keys, domain.ScanCodeKey(rec.ScanCode))
	}
	if rec.VerificationCode != "" {
		keys = append(keys, domain.VerificationCodeKey(rec.VerificationCode))
	}
	return keys
}

func validateNew(rec *domain.InventoryRecord) error {
	rec.Name = strings.TrimSpace(rec.Name)
	rec.ProductIdentifier = strings.ToUpper(strings.TrimSpace(rec.ProductIdentifier))
	rec.InventoryIdentifier = strings.ToUpper(strings.TrimSpace(rec.InventoryIdentifier))

	if rec.Category == "" {
		rec.Category = domain.CategoryEntry
	}
	var problems []string
	if !rec.Category.Valid() {
		problems = append(problems, fmt.Sprintf("unknown category %q", rec.Category))
	}
	if rec.Name == "" {
		problems = append(problems, "name is required")
	}
	if strings.Contains(rec.Name, domain.KeyDelimiter) {
		problems = append(problems, fmt.Sprintf("name must not contain %q", domain.KeyDelimiter))
	}
	if !identifierFormat.MatchString(rec.InventoryIdentifier) {
		problems = append(problems, "inventory_id must be three letters followed by digits")
	}
	if rec.ProductIdentifier != "" && !identifierFormat.MatchString(rec.ProductIdentifier) {
		problems = append(problems, "product_id must be three letters followed by digits")
	}
	if rec.Quantity < 0 {
		problems = append(problems, "quantity must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidRecord, strings.Join(problems, "; "))
	}

	rec.ScanCode = ""
	rec.VerificationCode = ""
	return nil
}
