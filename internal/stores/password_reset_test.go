package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPasswordResetConsumeIsSingleUse(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewPasswordResetStore(client, "")
	ctx := context.Background()

	record := &PasswordResetRecord{UserID: "user-1", Referrer: "/faxes", CreatedAt: time.Now().Unix()}
	if err := store.Save(ctx, "reset-1", record, time.Hour); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Peek does not consume.
	for i := 0; i < 2; i++ {
		got, err := store.Peek(ctx, "reset-1")
		if err != nil {
			t.Fatalf("Peek: %v", err)
		}
		if got.UserID != "user-1" || got.Referrer != "/faxes" {
			t.Fatalf("Peek = %+v", got)
		}
	}

	got, err := store.Consume(ctx, "reset-1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.UserID != "user-1" {
		t.Fatalf("Consume = %+v", got)
	}

	if _, err := store.Consume(ctx, "reset-1"); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("second Consume = %v, want ErrResetNotFound", err)
	}
	if _, err := store.Peek(ctx, "reset-1"); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("Peek after Consume = %v, want ErrResetNotFound", err)
	}
}

func TestPasswordResetExpires(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewPasswordResetStore(client, "")
	ctx := context.Background()

	record := &PasswordResetRecord{UserID: "user-1", CreatedAt: time.Now().Unix()}
	if err := store.Save(ctx, "reset-1", record, 3600*time.Second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mr.FastForward(3601 * time.Second)

	if _, err := store.Consume(ctx, "reset-1"); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("Consume after expiry = %v, want ErrResetNotFound", err)
	}
}
