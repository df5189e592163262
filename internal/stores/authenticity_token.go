package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

const flowTokenRecordVersion1 = 1

var (
	ErrFlowTokenNotFound = errors.New("authenticity token not found")
	ErrFlowTokenType     = errors.New("authenticity token type mismatch")
	ErrFlowTokenBackend  = errors.New("authenticity token backend unavailable")
)

// The totp response type survives failed attempts; every other type is
// single-use.
const responseTypeTOTP = "totp"

// FlowTokenRecord binds a multi-step flow (login form, OAuth authorize,
// TOTP challenge, password reset) across requests. Tokens are stored in
// plaintext: they are single-use and expire within minutes, so hashing buys
// nothing.
type FlowTokenRecord struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scope        string
	State        string
	UserID       string
	HostName     string
	CreatedAt    int64
}

// FlowTokenStore keeps authenticity tokens under their raw token value.
type FlowTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewFlowTokenStore(redisClient redis.UniversalClient, prefix string) *FlowTokenStore {
	if prefix == "" {
		prefix = "aft"
	}
	return &FlowTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *FlowTokenStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *FlowTokenStore) Save(ctx context.Context, token string, record *FlowTokenRecord, ttl time.Duration) error {
	encoded, err := encodeFlowTokenRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrFlowTokenBackend, err)
	}
	return nil
}

// Redeem looks the token up, rejects it when its response type is not among
// expected, and deletes it unless it is a totp token. Deletion runs in a
// WATCH transaction so concurrent redeemers of the same token cannot both
// win.
func (s *FlowTokenStore) Redeem(ctx context.Context, token string, expected ...string) (*FlowTokenRecord, error) {
	const maxRetries = 4
	key := s.key(token)

	for i := 0; i < maxRetries; i++ {
		var record *FlowTokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err = decodeFlowTokenRecord(data)
			if err != nil {
				return err
			}
			if len(expected) > 0 && !slices.Contains(expected, record.ResponseType) {
				return ErrFlowTokenType
			}
			if record.ResponseType == responseTypeTOTP {
				return nil
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
				return nil, ErrFlowTokenNotFound
			}
			if errors.Is(err, ErrFlowTokenType) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrFlowTokenBackend, err)
		}
		return record, nil
	}
	return nil, ErrFlowTokenNotFound
}

// Peek returns the record without consuming it. The TOTP retry loop reads
// the challenge binding this way between attempts.
func (s *FlowTokenStore) Peek(ctx context.Context, token string) (*FlowTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrFlowTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFlowTokenBackend, err)
	}
	return decodeFlowTokenRecord(data)
}

// Delete removes the token; deleting an absent token reports found=false.
func (s *FlowTokenStore) Delete(ctx context.Context, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrFlowTokenBackend, err)
	}
	return n > 0, nil
}

func encodeFlowTokenRecord(record *FlowTokenRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(flowTokenRecordVersion1)

	if err := writeInt64(&buf, record.CreatedAt); err != nil {
		return nil, err
	}
	for _, s := range []string{
		record.ResponseType, record.ClientID, record.RedirectURI,
		record.Scope, record.State, record.UserID, record.HostName,
	} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeFlowTokenRecord(data []byte) (*FlowTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != flowTokenRecordVersion1 {
		return nil, errors.New("invalid authenticity token record version")
	}

	record := &FlowTokenRecord{}
	if record.CreatedAt, err = readInt64(reader); err != nil {
		return nil, err
	}
	for _, dst := range []*string{
		&record.ResponseType, &record.ClientID, &record.RedirectURI,
		&record.Scope, &record.State, &record.UserID, &record.HostName,
	} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	return record, nil
}
