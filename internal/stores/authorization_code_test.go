package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

const testRedirect = "https://app.example/callback"

func saveTestCode(t *testing.T, store *AuthorizationCodeStore) {
	t.Helper()
	record := &AuthorizationCodeRecord{
		UserID:      "user-1",
		ClientID:    "client-1",
		RedirectURI: testRedirect,
		Scope:       "user",
		State:       "xyz",
		CreatedAt:   time.Now().Unix(),
	}
	if err := store.Save(context.Background(), "code-1", record, 10*time.Minute); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestAuthorizationCodeExchange(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewAuthorizationCodeStore(client, "")
	ctx := context.Background()
	saveTestCode(t, store)

	record, err := store.Exchange(ctx, "code-1", "client-1", testRedirect)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if record.UserID != "user-1" || record.Scope != "user" {
		t.Fatalf("Exchange = %+v", record)
	}

	// A code is one exchange, ever.
	if _, err := store.Exchange(ctx, "code-1", "client-1", testRedirect); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("replayed Exchange = %v, want ErrCodeNotFound", err)
	}
}

func TestAuthorizationCodeExchangeFailuresDoNotConsume(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewAuthorizationCodeStore(client, "")
	ctx := context.Background()
	saveTestCode(t, store)

	if _, err := store.Exchange(ctx, "code-1", "client-2", testRedirect); !errors.Is(err, ErrCodeClientMismatch) {
		t.Fatalf("wrong client = %v, want ErrCodeClientMismatch", err)
	}
	if _, err := store.Exchange(ctx, "code-1", "client-1", "https://evil.example/"); !errors.Is(err, ErrCodeRedirectMismatch) {
		t.Fatalf("wrong redirect = %v, want ErrCodeRedirectMismatch", err)
	}

	// Both failures leave the code for the legitimate client.
	if _, err := store.Exchange(ctx, "code-1", "client-1", testRedirect); err != nil {
		t.Fatalf("Exchange after failed attempts: %v", err)
	}
}

func TestAuthorizationCodeExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewAuthorizationCodeStore(client, "")
	ctx := context.Background()
	saveTestCode(t, store)

	mr.FastForward(601 * time.Second)

	if _, err := store.Exchange(ctx, "code-1", "client-1", testRedirect); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("Exchange after expiry = %v, want ErrCodeNotFound", err)
	}
}
