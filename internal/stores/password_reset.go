package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const passwordResetRecordVersion1 = 1

var (
	ErrResetNotFound = errors.New("password reset token not found")
	ErrResetBackend  = errors.New("password reset backend unavailable")
)

// PasswordResetRecord binds a one-time reset token to the account it resets
// and the page that initiated the flow.
type PasswordResetRecord struct {
	UserID    string
	Referrer  string
	CreatedAt int64
}

type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	return &PasswordResetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PasswordResetStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *PasswordResetStore) Save(ctx context.Context, token string, record *PasswordResetRecord, ttl time.Duration) error {
	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetBackend, err)
	}
	return nil
}

// Peek returns the binding without consuming it; the reset form is rendered
// from this before the user submits a new password.
func (s *PasswordResetStore) Peek(ctx context.Context, token string) (*PasswordResetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetBackend, err)
	}
	return decodePasswordResetRecord(data)
}

// Consume redeems the token exactly once; the WATCH transaction leaves at
// most one winner between concurrent redeemers.
func (s *PasswordResetStore) Consume(ctx context.Context, token string) (*PasswordResetRecord, error) {
	const maxRetries = 4
	key := s.key(token)

	for i := 0; i < maxRetries; i++ {
		var record *PasswordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err = decodePasswordResetRecord(data)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrResetNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrResetBackend, err)
		}
		return record, nil
	}
	return nil, ErrResetNotFound
}

func encodePasswordResetRecord(record *PasswordResetRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(passwordResetRecordVersion1)

	if err := writeInt64(&buf, record.CreatedAt); err != nil {
		return nil, err
	}
	for _, s := range []string{record.UserID, record.Referrer} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodePasswordResetRecord(data []byte) (*PasswordResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != passwordResetRecordVersion1 {
		return nil, errors.New("invalid password reset record version")
	}

	record := &PasswordResetRecord{}
	if record.CreatedAt, err = readInt64(reader); err != nil {
		return nil, err
	}
	for _, dst := range []*string{&record.UserID, &record.Referrer} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	return record, nil
}
