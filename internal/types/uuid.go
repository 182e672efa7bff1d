package types

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex pay_01HZX3J8N4T2QK9W7D5B6C1F0E
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

const (
	UUID_PREFIX_PAYMENT_RECORD = "pay"
	UUID_PREFIX_DELETION_LOG   = "pdl"
	UUID_PREFIX_RUN            = "run"
	UUID_PREFIX_LOCK_TOKEN     = "lck"
)
