// Package pagination implements the additive, tamper-evident cursor
// SPEC_FULL.md §2 layers on top of spec.md's page/limit pagination: an
// HS256 JWT encoding {page, limit, filterHash}, returned in the
// trace-list `meta` response's `cursor` field. page/limit remain the
// pagination mechanism spec.md's Testable Properties are checked
// against — no handler accepts a cursor back, so Decode is not on any
// request path.
package pagination

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrFilterMismatch is returned by Decode when a cursor is replayed
// against a filter it wasn't issued for.
var ErrFilterMismatch = errors.New("cursor was not issued for this filter")

type cursorClaims struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	FilterHash string `json:"filterHash"`
	jwt.RegisteredClaims
}

// Codec signs and verifies pagination cursors with a server-local key.
type Codec struct {
	key []byte
}

// NewCodec builds a Codec from the configured signing key.
func NewCodec(key string) *Codec {
	return &Codec{key: []byte(key)}
}

// FilterHash derives a stable digest of a filter struct so a cursor can
// be checked against the filter it was issued for. Any JSON-marshalable
// value works; callers pass the same domain.TraceFilter they query with.
func FilterHash(filter any) string {
	b, err := json.Marshal(filter)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Encode produces an opaque cursor string for the given page/limit and
// filter hash. Returns "" on signing failure, which callers treat as
// "omit the cursor field" rather than a request failure.
func (c *Codec) Encode(page, limit int, filterHash string) string {
	claims := cursorClaims{
		Page:       page,
		Limit:      limit,
		FilterHash: filterHash,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return ""
	}
	return signed
}

// Decode verifies a cursor and checks it was issued for filterHash,
// returning ErrFilterMismatch when it was not. No handler calls it.
func (c *Codec) Decode(cursor, filterHash string) (page, limit int, err error) {
	token, err := jwt.ParseWithClaims(cursor, &cursorClaims{}, func(t *jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return 0, 0, err
	}
	claims, ok := token.Claims.(*cursorClaims)
	if !ok || !token.Valid {
		return 0, 0, errors.New("invalid cursor")
	}
	if claims.FilterHash != filterHash {
		return 0, 0, ErrFilterMismatch
	}
	return claims.Page, claims.Limit, nil
}
