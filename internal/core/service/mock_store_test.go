package service

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

var errStoreDown = errors.New("connection refused")

// Mock RecordStore
type mockRecordStore struct {
	mu   sync.Mutex
	data map[string][]byte

	gets          []string
	failAll       bool
	failScan      bool
	claimFailures int // ClaimCodes reports a collision this many times
	claimCalls    int
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{data: make(map[string][]byte)}
}

func (m *mockRecordStore) put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = []byte(value)
}

func (m *mockRecordStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *mockRecordStore) value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.data[key])
}

func (m *mockRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	m.gets = append(m.gets, key)
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *mockRecordStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errStoreDown
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mockRecordStore) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errStoreDown
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = append([]byte(nil), value...)
	return true, nil
}

func (m *mockRecordStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errStoreDown
	}
	_, ok := m.data[key]
	return ok, nil
}

func (m *mockRecordStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	return m.matching(pattern), nil
}

// Scan pages through matching keys in sorted order; the cursor is an offset.
func (m *mockRecordStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) (uint64, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll || m.failScan {
		return 0, nil, errStoreDown
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	all := m.allKeys()
	start := int(cursor)
	if start >= len(all) {
		return 0, nil, nil
	}
	end := start + int(count)
	if end > len(all) {
		end = len(all)
	}

	re := globRegexp(pattern)
	var keys []string
	for _, k := range all[start:end] {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	if end == len(all) {
		return 0, keys, nil
	}
	return uint64(end), keys, nil
}

func (m *mockRecordStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errStoreDown
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mockRecordStore) ClaimCodes(ctx context.Context, codes domain.LinkedCodes, recordKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return false, errStoreDown
	}
	m.claimCalls++
	if m.claimFailures > 0 {
		m.claimFailures--
		return false, nil
	}

	scanKey := domain.ScanCodeKey(codes.ScanCode)
	verifyKey := domain.VerificationCodeKey(codes.VerificationCode)
	_, scanTaken := m.data[scanKey]
	_, verifyTaken := m.data[verifyKey]
	if scanTaken || verifyTaken {
		return false, nil
	}
	m.data[scanKey] = []byte(recordKey)
	m.data[verifyKey] = []byte(recordKey)
	return true, nil
}

func (m *mockRecordStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errStoreDown
	}
	current, ok := m.data[key]
	if !ok {
		return domain.ErrRecordNotFound
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	m.data[key] = next
	return nil
}

func (m *mockRecordStore) allKeys() []string {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *mockRecordStore) matching(pattern string) []string {
	re := globRegexp(pattern)
	var keys []string
	for _, k := range m.allKeys() {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// globRegexp supports the subset of Redis glob syntax the services emit.
func globRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	escaped := false
	for _, c := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(c)))
			escaped = false
		case c == '\\':
			escaped = true
		case c == '*':
			b.WriteString(".*")
		case c == '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
