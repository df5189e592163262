package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const accessTokenRecordVersion1 = 1

var (
	ErrAccessTokenNotFound = errors.New("access token not found")
	ErrRefreshHashNotFound = errors.New("refresh token not found")
	ErrAccessTokenBackend  = errors.New("access token backend unavailable")
)

// AccessTokenRecord is a persisted session or OAuth grant. The bearer secret
// is never part of the record; the record lives under its lookup hash.
// TokenExpires gates active-session checks; EndOfLife is the hard expiry past
// which the key is purged regardless of renewal. TokenExpires <= EndOfLife
// always.
type AccessTokenRecord struct {
	UserID       string
	Permission   uint8
	Source       string
	Scope        string
	ClientID     string
	RefreshHash  string
	CreatedAt    int64
	TokenExpires int64
	EndOfLife    int64
}

// AccessTokenStore keeps access-token records plus two secondary indexes: a
// refresh-hash index for the refresh grant and a per-user set for bulk
// revocation and permission updates.
type AccessTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAccessTokenStore(redisClient redis.UniversalClient, prefix string) *AccessTokenStore {
	if prefix == "" {
		prefix = "aat"
	}
	return &AccessTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *AccessTokenStore) key(tokenHash string) string {
	return s.prefix + ":" + tokenHash
}

func (s *AccessTokenStore) refreshKey(refreshHash string) string {
	return s.prefix + ":r:" + refreshHash
}

func (s *AccessTokenStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func endOfLifeTTL(record *AccessTokenRecord) time.Duration {
	ttl := time.Until(time.Unix(record.EndOfLife, 0))
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

// Save persists a new record under tokenHash and registers it in the user
// index and, when present, the refresh index.
func (s *AccessTokenStore) Save(ctx context.Context, tokenHash string, record *AccessTokenRecord) error {
	encoded, err := encodeAccessTokenRecord(record)
	if err != nil {
		return err
	}

	ttl := endOfLifeTTL(record)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenHash), encoded, ttl)
		pipe.SAdd(ctx, s.userKey(record.UserID), tokenHash)
		if record.RefreshHash != "" {
			pipe.Set(ctx, s.refreshKey(record.RefreshHash), tokenHash, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}
	return nil
}

// Get returns the record under tokenHash. Expiry is the caller's check:
// a record past TokenExpires is still returned.
func (s *AccessTokenStore) Get(ctx context.Context, tokenHash string) (*AccessTokenRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAccessTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}
	return decodeAccessTokenRecord(data)
}

// GetByRefresh resolves the refresh index and returns the live record it
// points at.
func (s *AccessTokenStore) GetByRefresh(ctx context.Context, refreshHash string) (*AccessTokenRecord, error) {
	tokenHash, err := s.redis.Get(ctx, s.refreshKey(refreshHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRefreshHashNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}
	record, err := s.Get(ctx, tokenHash)
	if errors.Is(err, ErrAccessTokenNotFound) {
		return nil, ErrRefreshHashNotFound
	}
	return record, err
}

// Renew rewrites the record with its extended expiries, recomputing the key
// TTL from the new EndOfLife. A concurrent renewal may win instead; that race
// only shortens the extension, never the session.
func (s *AccessTokenStore) Renew(ctx context.Context, tokenHash string, record *AccessTokenRecord) error {
	encoded, err := encodeAccessTokenRecord(record)
	if err != nil {
		return err
	}

	ttl := endOfLifeTTL(record)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenHash), encoded, ttl)
		if record.RefreshHash != "" {
			pipe.Expire(ctx, s.refreshKey(record.RefreshHash), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}
	return nil
}

// Delete removes the record and its index entries. Deleting an absent token
// is not an error; it reports found=false.
func (s *AccessTokenStore) Delete(ctx context.Context, tokenHash string) (bool, error) {
	record, err := s.Get(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrAccessTokenNotFound) {
			return false, nil
		}
		return false, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(tokenHash))
		pipe.SRem(ctx, s.userKey(record.UserID), tokenHash)
		if record.RefreshHash != "" {
			pipe.Del(ctx, s.refreshKey(record.RefreshHash))
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}
	return true, nil
}

// Rotate reissues the bearer secret of the record addressed by refreshHash:
// the record moves from its old token hash to newTokenHash with a fresh
// TokenExpires. The refresh hash itself is not rotated.
func (s *AccessTokenStore) Rotate(ctx context.Context, refreshHash, newTokenHash string, newTokenExpires int64) (*AccessTokenRecord, error) {
	oldTokenHash, err := s.redis.Get(ctx, s.refreshKey(refreshHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRefreshHashNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}

	record, err := s.Get(ctx, oldTokenHash)
	if err != nil {
		if errors.Is(err, ErrAccessTokenNotFound) {
			return nil, ErrRefreshHashNotFound
		}
		return nil, err
	}

	record.TokenExpires = newTokenExpires
	if record.TokenExpires > record.EndOfLife {
		record.EndOfLife = record.TokenExpires
	}
	encoded, err := encodeAccessTokenRecord(record)
	if err != nil {
		return nil, err
	}

	ttl := endOfLifeTTL(record)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(oldTokenHash))
		pipe.Set(ctx, s.key(newTokenHash), encoded, ttl)
		pipe.Set(ctx, s.refreshKey(refreshHash), newTokenHash, ttl)
		pipe.SRem(ctx, s.userKey(record.UserID), oldTokenHash)
		pipe.SAdd(ctx, s.userKey(record.UserID), newTokenHash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}
	return record, nil
}

// DeleteAllForUser revokes every access token of a user. Used when a user is
// deleted and on logout-everywhere.
func (s *AccessTokenStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	hashes, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}

	deleted := 0
	for _, tokenHash := range hashes {
		found, err := s.Delete(ctx, tokenHash)
		if err != nil {
			return deleted, err
		}
		if found {
			deleted++
		}
	}
	if _, err := s.redis.Del(ctx, s.userKey(userID)).Result(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}
	return deleted, nil
}

// UpdatePermissionForUser is the explicit bulk path that rewrites the
// permission snapshot on every live token of a user. Outside this path a
// permission change never affects already-issued tokens.
func (s *AccessTokenStore) UpdatePermissionForUser(ctx context.Context, userID string, permission uint8) error {
	hashes, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccessTokenBackend, err)
	}

	for _, tokenHash := range hashes {
		record, err := s.Get(ctx, tokenHash)
		if err != nil {
			if errors.Is(err, ErrAccessTokenNotFound) {
				continue
			}
			return err
		}
		record.Permission = permission
		if err := s.Renew(ctx, tokenHash, record); err != nil {
			return err
		}
	}
	return nil
}

func encodeAccessTokenRecord(record *AccessTokenRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(accessTokenRecordVersion1)
	buf.WriteByte(record.Permission)

	for _, v := range []int64{record.CreatedAt, record.TokenExpires, record.EndOfLife} {
		if err := writeInt64(&buf, v); err != nil {
			return nil, err
		}
	}
	for _, s := range []string{record.UserID, record.Source, record.Scope, record.ClientID, record.RefreshHash} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeAccessTokenRecord(data []byte) (*AccessTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != accessTokenRecordVersion1 {
		return nil, errors.New("invalid access token record version")
	}

	record := &AccessTokenRecord{}
	if record.Permission, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	for _, dst := range []*int64{&record.CreatedAt, &record.TokenExpires, &record.EndOfLife} {
		if *dst, err = readInt64(reader); err != nil {
			return nil, err
		}
	}
	for _, dst := range []*string{&record.UserID, &record.Source, &record.Scope, &record.ClientID, &record.RefreshHash} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}
	return record, nil
}
