// Package token issues and verifies the HMAC-signed access tokens candidates
// use to enter their interview.
//
// Wire format: base64url(payload) + "." + base64url(hmac_sha256(payload)),
// where payload is a compact JSON map {i, f, u, n, k}. The signing secret is
// selected from a rotating key ring by the key id carried in the payload, so
// tokens issued under an old key remain verifiable after rotation.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
)

// DefaultKeyID is the ring entry used for the bare HMAC_SECRET variable.
const DefaultKeyID = "default"

var (
	// ErrMalformed indicates the token does not parse as payload.signature.
	ErrMalformed = errors.New("token: malformed")

	// ErrInvalidSignature indicates the HMAC tag does not match the payload.
	ErrInvalidSignature = errors.New("token: invalid signature")

	// ErrUnknownKey indicates the payload names a key id not in the ring.
	ErrUnknownKey = errors.New("token: unknown signing key")

	// ErrExpired indicates the access window has closed.
	ErrExpired = errors.New("token: access window expired")
)

// TooEarlyError is returned when a token is redeemed before its window
// opens. It carries the remaining wait so the portal can render a countdown.
type TooEarlyError struct {
	SecondsUntilValid int64
}

func (e *TooEarlyError) Error() string {
	return fmt.Sprintf("token: not yet valid, %d seconds remaining", e.SecondsUntilValid)
}

// Payload is the signed content of an access token. Field names are
// single-letter to keep the token short enough for a URL query parameter.
type Payload struct {
	InterviewID string `json:"i"`
	ValidFrom   int64  `json:"f"`
	ValidUntil  int64  `json:"u"`
	Nonce       string `json:"n"`
	KeyID       string `json:"k"`
}

// Window returns the payload's validity window as UTC instants.
func (p Payload) Window() (from, until time.Time) {
	return time.Unix(p.ValidFrom, 0).UTC(), time.Unix(p.ValidUntil, 0).UTC()
}

// KeyRing maps key ids to signing secrets.
type KeyRing map[string][]byte

// Signer signs payloads with the active key and verifies tokens against the
// whole ring.
type Signer struct {
	ring      KeyRing
	activeKey string
}

// NewSigner builds a Signer over ring, signing new tokens with activeKey.
func NewSigner(ring KeyRing, activeKey string) (*Signer, error) {
	if len(ring) == 0 {
		return nil, errors.New("token: key ring is empty")
	}
	if _, ok := ring[activeKey]; !ok {
		return nil, fmt.Errorf("token: active key %q not in ring", activeKey)
	}
	return &Signer{ring: ring, activeKey: activeKey}, nil
}

// Sign serializes p (stamping the active key id) and appends the HMAC tag.
func (s *Signer) Sign(p Payload) (string, error) {
	p.KeyID = s.activeKey
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}
	mac := hmac.New(sha256.New, s.ring[s.activeKey])
	mac.Write(body)
	tag := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(body) + "." +
		base64.RawURLEncoding.EncodeToString(tag), nil
}

// Verify parses tok, picks the signing key by the payload's key id, and
// checks the HMAC tag in constant time. It does not check the time window;
// callers combine Verify with CheckWindow.
func (s *Signer) Verify(tok string) (Payload, error) {
	body64, tag64, ok := strings.Cut(tok, ".")
	if !ok {
		return Payload{}, ErrMalformed
	}
	body, err := base64.RawURLEncoding.DecodeString(body64)
	if err != nil {
		return Payload{}, ErrMalformed
	}
	tag, err := base64.RawURLEncoding.DecodeString(tag64)
	if err != nil {
		return Payload{}, ErrMalformed
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, ErrMalformed
	}

	secret, ok := s.ring[p.KeyID]
	if !ok {
		return Payload{}, ErrUnknownKey
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return Payload{}, ErrInvalidSignature
	}
	return p, nil
}

// CheckWindow validates now against the payload's access window.
func CheckWindow(p Payload, now time.Time) error {
	from, until := p.Window()
	if now.Before(from) {
		secs := int64(from.Sub(now).Seconds())
		if from.Sub(now)%time.Second > 0 {
			secs++
		}
		return &TooEarlyError{SecondsUntilValid: secs}
	}
	if now.After(until) {
		return ErrExpired
	}
	return nil
}

// AccessToken is an issued token together with its decoded fields.
type AccessToken struct {
	Value       string
	InterviewID uuid.UUID
	IssuedAt    time.Time
	ValidFrom   time.Time
	ValidUntil  time.Time
	Nonce       string
}

// Issuer mints access tokens for interviews, applying the configured lead
// and grace margins around the scheduled window.
type Issuer struct {
	signer *Signer
	clk    clock.Clock
	lead   time.Duration
	grace  time.Duration
}

// NewIssuer builds an Issuer. lead is subtracted from the scheduled start
// and grace added to the scheduled end.
func NewIssuer(signer *Signer, clk clock.Clock, lead, grace time.Duration) *Issuer {
	return &Issuer{signer: signer, clk: clk, lead: lead, grace: grace}
}

// Issue mints a signed token for iv. Fails with ErrNoScheduledStart if the
// interview has no scheduled start time.
func (iss *Issuer) Issue(iv interview.Interview) (AccessToken, error) {
	if iv.ScheduledStartUTC.IsZero() {
		return AccessToken{}, interview.ErrNoScheduledStart
	}

	from := iv.ScheduledStartUTC.Add(-iss.lead)
	until := iv.ScheduledEndUTC.Add(iss.grace)
	nonce := uuid.NewString()

	value, err := iss.signer.Sign(Payload{
		InterviewID: iv.ID.String(),
		ValidFrom:   from.Unix(),
		ValidUntil:  until.Unix(),
		Nonce:       nonce,
	})
	if err != nil {
		return AccessToken{}, err
	}

	return AccessToken{
		Value:       value,
		InterviewID: iv.ID,
		IssuedAt:    iss.clk.Now(),
		ValidFrom:   from,
		ValidUntil:  until,
		Nonce:       nonce,
	}, nil
}

// RingFromEnv assembles a KeyRing from the environment: HMAC_SECRET becomes
// the "default" key, and every HMAC_SECRET_<id> variable becomes key <id>
// (lowercased). environ is the os.Environ() style "KEY=value" list.
func RingFromEnv(environ []string) KeyRing {
	ring := KeyRing{}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		switch {
		case name == "HMAC_SECRET":
			ring[DefaultKeyID] = []byte(value)
		case strings.HasPrefix(name, "HMAC_SECRET_"):
			id := strings.ToLower(strings.TrimPrefix(name, "HMAC_SECRET_"))
			if id != "" {
				ring[id] = []byte(value)
			}
		}
	}
	return ring
}
