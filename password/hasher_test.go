package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	hash, err := hasher.Hash("Secret123")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	if !hasher.Verify("Secret123", hash) {
		t.Fatal("expected password verification to succeed")
	}
	if hasher.Verify("Secret124", hash) {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	first, err := hasher.Hash("Secret123")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	second, err := hasher.Hash("Secret123")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if first == second {
		t.Fatal("expected per-call salt to produce distinct hashes")
	}
}

func TestVerifyMalformedHashReturnsFalse(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	malformed := []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=65536,t=3,p=2$!!!$!!!",
		"$bcrypt$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=2$c2FsdA$aGFzaA",
	}
	for _, hash := range malformed {
		if hasher.Verify("Secret123", hash) {
			t.Fatalf("expected malformed hash %q to verify false", hash)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	oldHasher, err := NewHasher(Config{
		Memory:      32768,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher(old) error: %v", err)
	}
	hash, err := oldHasher.Hash("Secret123")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	newHasher, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher(new) error: %v", err)
	}
	if !newHasher.NeedsRehash(hash) {
		t.Fatal("expected NeedsRehash true for weaker hash parameters")
	}
	if oldHasher.NeedsRehash(hash) {
		t.Fatal("expected NeedsRehash false for matching parameters")
	}
}

func TestNewHasherRejectsWeakConfig(t *testing.T) {
	cases := []Config{
		{Memory: 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		{Memory: 65536, Time: 0, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		{Memory: 65536, Time: 3, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 65536, Time: 3, Parallelism: 2, SaltLength: 8, KeyLength: 32},
		{Memory: 65536, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range cases {
		if _, err := NewHasher(cfg); err == nil {
			t.Fatalf("case %d: expected weak config to be rejected", i)
		}
	}
}
