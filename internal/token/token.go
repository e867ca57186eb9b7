package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/growplant/growplant/internal/domain"
)

// Purpose scopes a token to a single flow. The purpose is mixed into the
// MAC input, so an activation token can never pass as a reset token.
type Purpose string

const (
	PurposeActivate Purpose = "activate"
	PurposeReset    Purpose = "reset"
)

// bucketSeconds is the time-bucket granularity: one Unix day.
const bucketSeconds = 86400

// Service mints and verifies derived account tokens. Tokens are never
// stored: each one is a keyed hash over the user id, a fingerprint of the
// mutable state the token is allowed to change, and the day bucket it was
// minted in. Activating the account or setting a new password changes the
// fingerprint, which silently invalidates every outstanding token for that
// purpose. No revocation list is needed.
type Service struct {
	secret  []byte
	ttlDays int
	now     func() time.Time
}

func New(secret string, ttlDays int) *Service {
	return NewWithClock(secret, ttlDays, time.Now)
}

// NewWithClock pins the time source, so tests can place mints and
// verifications in chosen buckets.
func NewWithClock(secret string, ttlDays int, now func() time.Time) *Service {
	return &Service{secret: []byte(secret), ttlDays: ttlDays, now: now}
}

// Mint derives a token for the user's current state. The user must be
// freshly loaded from storage, otherwise the fingerprint may be stale.
// The result is URL-path safe: "<bucket_base36>-<hex digest>".
func (s *Service) Mint(user domain.User, purpose Purpose) string {
	b := s.bucket()
	return strconv.FormatInt(b, 36) + "-" + s.digest(user, purpose, b)
}

// Verify recomputes the expected token for the user's current state and the
// bucket embedded in tok. It returns false for a malformed token, a wrong
// purpose, an expired bucket or a changed fingerprint, without telling the
// caller which it was. Verification has no side effects and never consumes
// the token.
func (s *Service) Verify(user domain.User, tok string, purpose Purpose) bool {
	bucketPart, digest, ok := strings.Cut(tok, "-")
	if !ok {
		return false
	}
	b, err := strconv.ParseInt(bucketPart, 36, 64)
	if err != nil || b < 0 {
		return false
	}

	now := s.bucket()
	if b > now || now-b >= int64(s.ttlDays) {
		return false
	}

	return hmac.Equal([]byte(digest), []byte(s.digest(user, purpose, b)))
}

func (s *Service) bucket() int64 {
	return s.now().Unix() / bucketSeconds
}

func (s *Service) digest(user domain.User, purpose Purpose, bucket int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d:%s:%d", purpose, user.Id, fingerprint(user, purpose), bucket)
	return hex.EncodeToString(mac.Sum(nil))
}

// fingerprint selects the mutable state a token of the given purpose is
// bound to. Activation tokens die when the account is activated; reset
// tokens die when the password changes or the user logs in.
func fingerprint(user domain.User, purpose Purpose) string {
	switch purpose {
	case PurposeActivate:
		return strconv.FormatBool(user.Active)
	case PurposeReset:
		login := int64(0)
		if !user.LastLogin.IsZero() {
			login = user.LastLogin.Unix()
		}
		return user.PassHash + ":" + strconv.FormatInt(login, 10)
	}
	return string(purpose)
}
