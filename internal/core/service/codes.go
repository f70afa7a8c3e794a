package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

const (
	ScanCodeLength         = 12
	VerificationCodeLength = 16

	compositeDelimiter = "|"
	namePrefixLength   = 20
	verificationBytes  = 8
)

var ErrInvalidCodeKey = errors.New("record id unusable as verification key")

// GenerateLinkedCodes derives the scan code and its verification code from
// the record's identifying fields and stores both on rec. A missing ID or
// CreatedAt is filled in first; with both present the result is deterministic.
func GenerateLinkedCodes(rec *domain.InventoryRecord) (domain.LinkedCodes, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	scanCode := deriveScanCode(compositeOf(*rec))
	verificationCode, err := verificationDigest(scanCode, rec.ID)
	if err != nil {
		return domain.LinkedCodes{}, err
	}

	rec.ScanCode = scanCode
	rec.VerificationCode = verificationCode
	return domain.LinkedCodes{ScanCode: scanCode, VerificationCode: verificationCode}, nil
}

// VerifyCodeRelationship reports whether rec's verification code is the one
// issued for its scan code and id.
func VerifyCodeRelationship(rec domain.InventoryRecord) bool {
	if rec.ScanCode == "" || rec.VerificationCode == "" || rec.ID == "" {
		return false
	}
	expected, err := verificationDigest(rec.ScanCode, rec.ID)
	if err != nil {
		return false
	}
	return strings.ToUpper(strings.TrimSpace(rec.VerificationCode)) == expected
}

func compositeOf(rec domain.InventoryRecord) string {
	name := []rune(rec.Name)
	if len(name) > namePrefixLength {
		name = name[:namePrefixLength]
	}
	return strings.Join([]string{
		rec.ID,
		rec.ProductIdentifier,
		rec.InventoryIdentifier,
		string(name),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, compositeDelimiter)
}

// deriveScanCode keeps the decimal characters of the SHA-256 hex digest.
func deriveScanCode(composite string) string {
	sum := sha256.Sum256([]byte(composite))

	var b strings.Builder
	b.Grow(ScanCodeLength)
	for _, c := range hex.EncodeToString(sum[:]) {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
			if b.Len() == ScanCodeLength {
				break
			}
		}
	}
	for b.Len() < ScanCodeLength {
		b.WriteByte('0')
	}
	return b.String()
}

func verificationDigest(scanCode, id string) (string, error) {
	h, err := blake2b.New(verificationBytes, []byte(id))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCodeKey, err)
	}
	h.Write([]byte(scanCode))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
