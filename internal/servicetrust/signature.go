// Package servicetrust lets edge functions prove possession of a shared secret
// to the backend without a user session.
//
// A signature is the header value "T:token" where T is Unix seconds and token
// is base64(HMAC-SHA256(secret, "T:secret")). The verifier accepts it while
// |now-T| stays within the freshness window and the token matches the
// recomputed MAC.
package servicetrust

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// HeaderName carries the signature on service-to-service calls.
	HeaderName = "serverlessSignature"
	// DefaultWindow is the accepted clock distance between signer and verifier.
	DefaultWindow = 300 * time.Second
)

// ErrUntrusted is matched by every verification failure.
var ErrUntrusted = errors.New("servicetrust: untrusted caller")

var errMissingSecret = errors.New("servicetrust: shared secret is not configured")

// Rejection reasons reported by RejectError.
const (
	ReasonMissing           = "missing"
	ReasonMalformed         = "malformed"
	ReasonTimestamp         = "timestamp"
	ReasonStale             = "stale"
	ReasonEncoding          = "encoding"
	ReasonMismatch          = "mismatch"
	ReasonReplayed          = "replayed"
	ReasonReplayUnavailable = "replay_unavailable"
)

// RejectError records why a signature was refused. Callers must not expose
// the reason; every RejectError is reported to clients as ErrUntrusted.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return "servicetrust: signature rejected: " + e.Reason + ": " + e.Err.Error()
	}
	return "servicetrust: signature rejected: " + e.Reason
}

func (e *RejectError) Is(target error) bool { return target == ErrUntrusted }

func (e *RejectError) Unwrap() error { return e.Err }

// Reason extracts the rejection reason from err, or "" if err is not a rejection.
func Reason(err error) string {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}

func reject(reason string) error {
	return &RejectError{Reason: reason}
}

type config struct {
	now    func() time.Time
	window time.Duration
	guard  ReplayGuard
}

// Option configures a Signer or Verifier.
type Option func(*config)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(c *config) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithWindow overrides the freshness window. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithReplayGuard makes Consume reject signatures it has already accepted.
func WithReplayGuard(g ReplayGuard) Option {
	return func(c *config) {
		c.guard = g
	}
}

func newConfig(opts []Option) config {
	c := config{now: time.Now, window: DefaultWindow}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func secretBytes(secret string) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errMissingSecret
	}
	return []byte(secret), nil
}

func computeMAC(secret []byte, ts int64) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{':'})
	mac.Write(secret)
	return mac.Sum(nil)
}

// Signer produces signatures for outbound calls.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner builds a Signer for the shared secret.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	key, err := secretBytes(secret)
	if err != nil {
		return nil, err
	}
	c := newConfig(opts)
	return &Signer{secret: key, now: c.now}, nil
}

// Sign returns a signature for the current time.
func (s *Signer) Sign() string {
	return s.SignAt(s.now())
}

// SignAt returns the signature for the given instant.
func (s *Signer) SignAt(t time.Time) string {
	ts := t.Unix()
	return strconv.FormatInt(ts, 10) + ":" + base64.StdEncoding.EncodeToString(computeMAC(s.secret, ts))
}

// Apply sets a fresh signature header on req.
func (s *Signer) Apply(req *http.Request) {
	req.Header.Set(HeaderName, s.Sign())
}

// Verifier checks signatures on inbound calls.
type Verifier struct {
	secret []byte
	now    func() time.Time
	window int64
	ttl    time.Duration
	guard  ReplayGuard
}

// NewVerifier builds a Verifier for the shared secret.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	key, err := secretBytes(secret)
	if err != nil {
		return nil, err
	}
	c := newConfig(opts)
	window := int64(c.window / time.Second)
	if window < 1 {
		window = 1
	}
	return &Verifier{
		secret: key,
		now:    c.now,
		window: window,
		ttl:    2 * time.Duration(window) * time.Second,
		guard:  c.guard,
	}, nil
}

// Window returns the freshness window.
func (v *Verifier) Window() time.Duration {
	return time.Duration(v.window) * time.Second
}

// Verify accepts header only if it is well formed, fresh and carries the MAC
// derived from the shared secret. Every failure matches ErrUntrusted.
func (v *Verifier) Verify(ctx context.Context, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return reject(ReasonMissing)
	}
	parts := strings.Split(header, ":")
	if len(parts) != 2 {
		return reject(ReasonMalformed)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return reject(ReasonTimestamp)
	}
	now := v.now().Unix()
	if ts < now-v.window || ts > now+v.window {
		return reject(ReasonStale)
	}
	got, err := base64.StdEncoding.Strict().DecodeString(parts[1])
	if err != nil {
		return reject(ReasonEncoding)
	}
	if !hmac.Equal(got, computeMAC(v.secret, ts)) {
		return reject(ReasonMismatch)
	}
	return nil
}

// Consume verifies header and then claims it with the replay guard, if one is
// configured, so the same signature is accepted at most once. Every signed
// call made within the same second carries the same header, so Consume is
// meant for the operations that must not repeat; read-only calls use Verify.
func (v *Verifier) Consume(ctx context.Context, header string) error {
	if err := v.Verify(ctx, header); err != nil {
		return err
	}
	if v.guard == nil {
		return nil
	}
	header = strings.TrimSpace(header)
	fresh, err := v.guard.Claim(ctx, header, v.ttl)
	if err != nil {
		return &RejectError{Reason: ReasonReplayUnavailable, Err: err}
	}
	if !fresh {
		return reject(ReasonReplayed)
	}
	return nil
}

// VerifyRequest verifies the signature header of req.
func (v *Verifier) VerifyRequest(req *http.Request) error {
	return v.Verify(req.Context(), req.Header.Get(HeaderName))
}
