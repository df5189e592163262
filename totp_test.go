package authcore

import (
	"strings"
	"testing"
	"time"
)

// rfcSecret is "12345678901234567890" in base32, the shared secret of the
// RFC 6238 appendix vectors.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func testTOTP(digits, period, skew int) *totpManager {
	return newTOTPManager(TOTPConfig{Issuer: "test", Digits: digits, Period: period, Skew: skew})
}

func TestTOTPCodeMatchesRFCVectors(t *testing.T) {
	m := testTOTP(8, 30, 1)
	vectors := []struct {
		unix int64
		want string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
	}
	for _, v := range vectors {
		got, err := m.Code(rfcSecret, time.Unix(v.unix, 0))
		if err != nil {
			t.Fatalf("Code(%d): %v", v.unix, err)
		}
		if got != v.want {
			t.Fatalf("Code(%d) = %q, want %q", v.unix, got, v.want)
		}
	}
}

func TestTOTPVerifyWindow(t *testing.T) {
	m := testTOTP(6, 30, 1)
	now := time.Unix(1700000000, 0)

	current, err := m.Code(rfcSecret, now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	previous, err := m.Code(rfcSecret, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	stale, err := m.Code(rfcSecret, now.Add(-60*time.Second))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	future, err := m.Code(rfcSecret, now.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}

	if !m.Verify(rfcSecret, current, now) {
		t.Fatal("current-period code rejected")
	}
	if !m.Verify(rfcSecret, previous, now) {
		t.Fatal("previous-period code rejected")
	}
	if m.Verify(rfcSecret, stale, now) {
		t.Fatal("code two periods old accepted")
	}
	if m.Verify(rfcSecret, future, now) {
		t.Fatal("future-period code accepted")
	}
}

func TestTOTPVerifyZeroSkew(t *testing.T) {
	m := testTOTP(6, 30, 0)
	now := time.Unix(1700000000, 0)

	previous, err := m.Code(rfcSecret, now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if m.Verify(rfcSecret, previous, now) {
		t.Fatal("previous-period code accepted with zero skew")
	}
}

func TestTOTPVerifyRejectsMalformedCodes(t *testing.T) {
	m := testTOTP(6, 30, 1)
	now := time.Unix(1700000000, 0)

	for _, code := range []string{"", "12345", "1234567", "12345a", "abcdef"} {
		if m.Verify(rfcSecret, code, now) {
			t.Fatalf("malformed code %q accepted", code)
		}
	}
	if m.Verify("not base32!!", "123456", now) {
		t.Fatal("malformed secret accepted")
	}
}

func TestTOTPVerifyTrimsWhitespace(t *testing.T) {
	m := testTOTP(6, 30, 1)
	now := time.Unix(1700000000, 0)

	code, err := m.Code(rfcSecret, now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if !m.Verify(rfcSecret, "  "+code+" ", now) {
		t.Fatal("whitespace-wrapped code rejected")
	}
}

func TestTOTPGenerateSecretIsFreshAndDecodable(t *testing.T) {
	m := testTOTP(6, 30, 1)
	a, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	b, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if a == b {
		t.Fatal("two generated secrets are identical")
	}
	if _, err := decodeSecret(a); err != nil {
		t.Fatalf("generated secret does not decode: %v", err)
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := testTOTP(6, 30, 1)
	uri := m.ProvisionURI(rfcSecret, "user@example.com")

	if got, want := uri[:15], "otpauth://totp/"; got != want {
		t.Fatalf("uri scheme = %q, want %q", got, want)
	}
	for _, fragment := range []string{"secret=" + rfcSecret, "issuer=test", "digits=6", "period=30"} {
		if !strings.Contains(uri, fragment) {
			t.Fatalf("uri %q missing %q", uri, fragment)
		}
	}
}
