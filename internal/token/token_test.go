package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/interview"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(KeyRing{"default": []byte("test-secret")}, "default")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := testSigner(t)

	want := Payload{
		InterviewID: uuid.NewString(),
		ValidFrom:   1_700_000_000,
		ValidUntil:  1_700_003_600,
		Nonce:       "nonce-1",
	}
	tok, err := s.Sign(want)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want.KeyID = "default"
	if got != want {
		t.Errorf("payload mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestVerifyRejectsEveryBitFlip(t *testing.T) {
	s := testSigner(t)
	tok, err := s.Sign(Payload{
		InterviewID: uuid.NewString(),
		ValidFrom:   100,
		ValidUntil:  200,
		Nonce:       "n",
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	orig, _ := s.Verify(tok)

	for i := 0; i < len(tok); i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := []byte(tok)
			flipped[i] ^= 1 << bit
			if string(flipped) == tok {
				continue
			}
			got, err := s.Verify(string(flipped))
			if err == nil && got == orig {
				t.Fatalf("bit flip at byte %d bit %d verified to the original payload", i, bit)
			}
		}
	}
}

func TestVerifyMalformed(t *testing.T) {
	s := testSigner(t)

	for _, tok := range []string{"", "nodot", "a.b.c!", "!!!.!!!"} {
		if _, err := s.Verify(tok); err == nil {
			t.Errorf("Verify(%q): expected error", tok)
		}
	}
}

func TestVerifyKeyRotation(t *testing.T) {
	oldSigner, _ := NewSigner(KeyRing{"k1": []byte("old")}, "k1")
	tok, err := oldSigner.Sign(Payload{InterviewID: uuid.NewString(), Nonce: "n"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// A ring carrying both keys still verifies the old token.
	both, _ := NewSigner(KeyRing{"k1": []byte("old"), "k2": []byte("new")}, "k2")
	if _, err := both.Verify(tok); err != nil {
		t.Errorf("Verify with rotated ring: %v", err)
	}

	// A ring without the old key rejects it.
	onlyNew, _ := NewSigner(KeyRing{"k2": []byte("new")}, "k2")
	if _, err := onlyNew.Verify(tok); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("got %v, want ErrUnknownKey", err)
	}
}

func TestCheckWindow(t *testing.T) {
	from := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	until := from.Add(30 * time.Minute)
	p := Payload{ValidFrom: from.Unix(), ValidUntil: until.Unix()}

	t.Run("too early carries remaining seconds", func(t *testing.T) {
		err := CheckWindow(p, from.Add(-15*time.Minute))
		var tooEarly *TooEarlyError
		if !errors.As(err, &tooEarly) {
			t.Fatalf("got %v, want TooEarlyError", err)
		}
		if tooEarly.SecondsUntilValid != 900 {
			t.Errorf("SecondsUntilValid: got %d, want 900", tooEarly.SecondsUntilValid)
		}
	})

	t.Run("inside window", func(t *testing.T) {
		if err := CheckWindow(p, from.Add(time.Minute)); err != nil {
			t.Errorf("got %v, want nil", err)
		}
	})

	t.Run("boundary instants are valid", func(t *testing.T) {
		if err := CheckWindow(p, from); err != nil {
			t.Errorf("at valid_from: got %v, want nil", err)
		}
		if err := CheckWindow(p, until); err != nil {
			t.Errorf("at valid_until: got %v, want nil", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		if err := CheckWindow(p, until.Add(time.Second)); !errors.Is(err, ErrExpired) {
			t.Errorf("got %v, want ErrExpired", err)
		}
	})
}

func TestIssuerWindow(t *testing.T) {
	s := testSigner(t)
	start := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) // 14:00 IST
	end := start.Add(10 * time.Minute)
	clk := clock.NewFake(start.Add(-2 * time.Hour))

	iss := NewIssuer(s, clk, 15*time.Minute, 10*time.Minute)

	tok, err := iss.Issue(interview.Interview{
		ID:                uuid.New(),
		ScheduledStartUTC: start,
		ScheduledEndUTC:   end,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if !tok.ValidFrom.Equal(start.Add(-15 * time.Minute)) {
		t.Errorf("ValidFrom: got %v, want %v", tok.ValidFrom, start.Add(-15*time.Minute))
	}
	if !tok.ValidUntil.Equal(end.Add(10 * time.Minute)) {
		t.Errorf("ValidUntil: got %v, want %v", tok.ValidUntil, end.Add(10*time.Minute))
	}

	p, err := s.Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify issued token: %v", err)
	}
	if p.InterviewID != tok.InterviewID.String() {
		t.Errorf("InterviewID: got %q, want %q", p.InterviewID, tok.InterviewID)
	}
	if p.Nonce == "" {
		t.Error("expected non-empty nonce")
	}
}

func TestIssuerRequiresScheduledStart(t *testing.T) {
	iss := NewIssuer(testSigner(t), clock.System{}, 15*time.Minute, 10*time.Minute)
	_, err := iss.Issue(interview.Interview{ID: uuid.New()})
	if !errors.Is(err, interview.ErrNoScheduledStart) {
		t.Errorf("got %v, want ErrNoScheduledStart", err)
	}
}

func TestRingFromEnv(t *testing.T) {
	ring := RingFromEnv([]string{
		"PATH=/usr/bin",
		"HMAC_SECRET=primary",
		"HMAC_SECRET_V2=rotated",
		"HMAC_SECRET_=ignored",
		"HMAC_SECRETX=notakey",
	})

	if string(ring[DefaultKeyID]) != "primary" {
		t.Errorf("default key: got %q", ring[DefaultKeyID])
	}
	if string(ring["v2"]) != "rotated" {
		t.Errorf("v2 key: got %q", ring["v2"])
	}
	if len(ring) != 2 {
		t.Errorf("ring size: got %d, want 2 (%v)", len(ring), keysOf(ring))
	}
}

func keysOf(r KeyRing) string {
	var ks []string
	for k := range r {
		ks = append(ks, k)
	}
	return strings.Join(ks, ",")
}
