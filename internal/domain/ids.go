package domain

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/xtrace/xtrace/internal/pkg/errors"
)

// HexToBytes decodes a hex string into bytes. It rejects odd-length
// input; decoding is case-insensitive (encoding/hex already is).
func HexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, apperrors.BadRequest("malformed identifier: odd-length hex string")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBadRequest, "malformed identifier", 400, err)
	}
	return b, nil
}

// OTLPTraceID converts a 32-character hex OTLP trace id into a UUID.
// The 16 decoded bytes become the UUID's bytes directly.
func OTLPTraceID(s string) (uuid.UUID, error) {
	b, err := HexToBytes(s)
	if err != nil {
		return uuid.Nil, err
	}
	if len(b) != 16 {
		return uuid.Nil, apperrors.BadRequest("malformed identifier: trace id must decode to 16 bytes")
	}
	var u uuid.UUID
	copy(u[:], b)
	return u, nil
}

// OTLPSpanID converts a 16-character hex OTLP span id into a UUID by
// left-zero-padding the 8 decoded bytes to 16 bytes.
func OTLPSpanID(s string) (uuid.UUID, error) {
	b, err := HexToBytes(s)
	if err != nil {
		return uuid.Nil, err
	}
	if len(b) != 8 {
		return uuid.Nil, apperrors.BadRequest("malformed identifier: span id must decode to 8 bytes")
	}
	var u uuid.UUID
	copy(u[8:], b)
	return u, nil
}

// IsZeroSpanID reports whether the decoded raw span id bytes (before
// padding) are all zero, or the id string is empty — both mean "no
// parent" per spec.
func IsZeroSpanID(s string) bool {
	if s == "" {
		return true
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return true
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// UnixNano converts a signed count of nanoseconds since the Unix epoch
// into a UTC time. A value <= 0 yields the zero value and ok=false —
// per spec, 0 means "unset".
func UnixNano(nanos int64) (time.Time, bool) {
	if nanos <= 0 {
		return time.Time{}, false
	}
	sec := nanos / 1_000_000_000
	nsec := nanos % 1_000_000_000
	return time.Unix(sec, nsec).UTC(), true
}
