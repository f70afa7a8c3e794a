package domain

import "strings"

const (
	KeyPrefix      = "inventory"
	KeyDelimiter   = "|"
	IndexPrefix    = KeyPrefix + ":id"
	ScanCodePrefix = KeyPrefix + ":scancode"
	VerifyPrefix   = KeyPrefix + ":verifycode"
)

// RecordKey is the store key a record lives under: inventory:<name>|<inventory id>.
func RecordKey(r InventoryRecord) string {
	return KeyPrefix + ":" + strings.TrimSpace(r.Name) + KeyDelimiter + r.InventoryIdentifier
}

func IndexKey(identifier string) string {
	return IndexPrefix + ":" + identifier
}

func ScanCodeKey(code string) string {
	return ScanCodePrefix + ":" + code
}

func VerificationCodeKey(code string) string {
	return VerifyPrefix + ":" + code
}

// IsAuxiliaryKey reports whether key is an index or code-claim entry rather
// than a record.
func IsAuxiliaryKey(key string) bool {
	return strings.HasPrefix(key, IndexPrefix+":") ||
		strings.HasPrefix(key, ScanCodePrefix+":") ||
		strings.HasPrefix(key, VerifyPrefix+":")
}
