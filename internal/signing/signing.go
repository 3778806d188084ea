// Package signing issues and validates the time-bounded download references
// attached to completed tasks.
package signing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// ErrTokenMismatch is returned when the presented token does not match the
	// one issued for the task.
	ErrTokenMismatch = errors.New("download token mismatch")
	// ErrTokenExpired is returned when the reference's validity window has passed.
	ErrTokenExpired = errors.New("download token expired")
)

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

// SignedURL is an issued download reference. Token and ExpiresAt are persisted
// with the task so the download operation can validate them.
type SignedURL struct {
	URL       string
	Token     string
	ExpiresAt time.Time
}

// Issuer produces signed download references with a fixed validity window.
type Issuer struct {
	ttl time.Duration
}

// NewIssuer creates an Issuer; ttl defaults to 24 hours when non-positive.
func NewIssuer(ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{ttl: ttl}
}

// Issue mints an unguessable token and builds the download URL for the task.
func (i *Issuer) Issue(taskID string, now time.Time) (SignedURL, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return SignedURL{}, fmt.Errorf("generate download token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	expiry := now.UTC().Add(i.ttl)
	u := fmt.Sprintf("/api/analyze/download/%s?token=%s&expires=%s",
		url.PathEscape(taskID), token, url.QueryEscape(expiry.Format(time.RFC3339)))
	return SignedURL{URL: u, Token: token, ExpiresAt: expiry}, nil
}

// Validate checks a presented token against the issued token and expiry. The
// comparison is constant time to avoid leaking token prefixes.
func Validate(issuedToken string, expiresAt time.Time, presented string, now time.Time) error {
	if subtle.ConstantTimeCompare([]byte(issuedToken), []byte(presented)) != 1 {
		return ErrTokenMismatch
	}
	if now.After(expiresAt) {
		return ErrTokenExpired
	}
	return nil
}
