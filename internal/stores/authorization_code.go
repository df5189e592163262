package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const authorizationCodeRecordVersion1 = 1

var (
	ErrCodeNotFound         = errors.New("authorization code not found")
	ErrCodeClientMismatch   = errors.New("authorization code client mismatch")
	ErrCodeRedirectMismatch = errors.New("authorization code redirect uri mismatch")
	ErrCodeBackend          = errors.New("authorization code backend unavailable")
)

// AuthorizationCodeRecord binds a one-time OAuth2 code to the user, client,
// redirect URI, and scope it was granted for. Codes are stored in plaintext:
// they are exchanged once over a server-to-server channel within minutes.
type AuthorizationCodeRecord struct {
	UserID      string
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
	CreatedAt   int64
}

type AuthorizationCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAuthorizationCodeStore(redisClient redis.UniversalClient, prefix string) *AuthorizationCodeStore {
	if prefix == "" {
		prefix = "aac"
	}
	return &AuthorizationCodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *AuthorizationCodeStore) key(code string) string {
	return s.prefix + ":" + code
}

func (s *AuthorizationCodeStore) Save(ctx context.Context, code string, record *AuthorizationCodeRecord, ttl time.Duration) error {
	encoded, err := encodeAuthorizationCodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(code), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return nil
}

// Exchange validates the caller-supplied client id and redirect URI against
// the stored binding, then deletes the code in the same transaction. The code
// is consumed only on a fully valid exchange: a mismatched replay from a
// different caller cannot invalidate another client's code. The WATCH
// transaction guarantees a single winner between concurrent exchanges.
func (s *AuthorizationCodeStore) Exchange(ctx context.Context, code, clientID, redirectURI string) (*AuthorizationCodeRecord, error) {
	const maxRetries = 4
	key := s.key(code)

	for i := 0; i < maxRetries; i++ {
		var record *AuthorizationCodeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err = decodeAuthorizationCodeRecord(data)
			if err != nil {
				return err
			}
			if record.ClientID != clientID {
				return ErrCodeClientMismatch
			}
			if record.RedirectURI != redirectURI {
				return ErrCodeRedirectMismatch
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
				return nil, ErrCodeNotFound
			}
			if errors.Is(err, ErrCodeClientMismatch) || errors.Is(err, ErrCodeRedirectMismatch) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}
		return record, nil
	}
	return nil, ErrCodeNotFound
}

func encodeAuthorizationCodeRecord(record *AuthorizationCodeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(authorizationCodeRecordVersion1)

	if err := writeInt64(&buf, record.CreatedAt); err != nil {
		return nil, err
	}
	for _, s := range []string{record.UserID, record.ClientID, record.RedirectURI, record.Scope, record.State} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeAuthorizationCodeRecord(data []byte) (*AuthorizationCodeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != authorizationCodeRecordVersion1 {
		return nil, errors.New("invalid authorization code record version")
	}

	record := &AuthorizationCodeRecord{}
	if record.CreatedAt, err = readInt64(reader); err != nil {
		return nil, err
	}
	for _, dst := range []*string{&record.UserID, &record.ClientID, &record.RedirectURI, &record.Scope, &record.State} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	return record, nil
}
