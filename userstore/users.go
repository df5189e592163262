package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/blufax/authcore"
)

// ErrStoreBackend wraps Redis failures.
var ErrStoreBackend = errors.New("userstore: backend failure")

// Store implements authcore.UserProvider on Redis. User records are JSON
// under a uuid key; a separate key per email enforces index uniqueness.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Store. prefix namespaces all keys; empty means "aus".
func New(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "aus"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

type userRecord struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	PasswordHash  string `json:"password_hash"`
	Permission    uint8  `json:"permission"`
	TOTPSecret    string `json:"totp_secret,omitempty"`
	TOTPActivated bool   `json:"totp_activated,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

func (s *Store) userKey(userID string) string { return s.prefix + ":" + userID }
func (s *Store) emailKey(email string) string { return s.prefix + ":e:" + email }
func (s *Store) allKey() string               { return s.prefix + ":all" }

func toRecord(u userRecord) authcore.UserRecord {
	return authcore.UserRecord{
		UserID:        u.UserID,
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		Permission:    authcore.Permission(u.Permission),
		TOTPSecret:    u.TOTPSecret,
		TOTPActivated: u.TOTPActivated,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Store) load(ctx context.Context, userID string) (userRecord, error) {
	data, err := s.redis.Get(ctx, s.userKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return userRecord{}, authcore.ErrUserNotFound
		}
		return userRecord{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	var u userRecord
	if err := json.Unmarshal(data, &u); err != nil {
		return userRecord{}, fmt.Errorf("%w: corrupt user record: %v", ErrStoreBackend, err)
	}
	return u, nil
}

func (s *Store) save(ctx context.Context, u userRecord) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	if err := s.redis.Set(ctx, s.userKey(u.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return authcore.UserRecord{}, err
	}
	return toRecord(u), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	userID, err := s.redis.Get(ctx, s.emailKey(normalizeEmail(email))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return s.GetUserByID(ctx, userID)
}

// ListUsers pages through all accounts ordered by id. The account population
// is small (operators and their few users), so the full id set is read and
// sorted per call.
func (s *Store) ListUsers(ctx context.Context, skip, limit int) ([]authcore.UserRecord, error) {
	ids, err := s.redis.SMembers(ctx, s.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	sort.Strings(ids)

	if skip >= len(ids) {
		return nil, nil
	}
	ids = ids[skip:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	users := make([]authcore.UserRecord, 0, len(ids))
	for _, id := range ids {
		u, err := s.load(ctx, id)
		if err != nil {
			if errors.Is(err, authcore.ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, toRecord(u))
	}
	return users, nil
}

// CreateUser claims the email index first; SetNX makes the claim atomic, so
// two concurrent registrations of the same address cannot both succeed.
func (s *Store) CreateUser(ctx context.Context, input authcore.CreateUserInput) (authcore.UserRecord, error) {
	email := normalizeEmail(input.Email)
	userID := uuid.NewString()

	claimed, err := s.redis.SetNX(ctx, s.emailKey(email), userID, 0).Result()
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	if !claimed {
		return authcore.UserRecord{}, authcore.ErrEmailTaken
	}

	u := userRecord{
		UserID:       userID,
		Email:        email,
		PasswordHash: input.PasswordHash,
		Permission:   uint8(input.Permission),
	}
	if err := s.save(ctx, u); err != nil {
		// Release the claim so the address is not burned by a failed write.
		s.redis.Del(ctx, s.emailKey(email))
		return authcore.UserRecord{}, err
	}
	if err := s.redis.SAdd(ctx, s.allKey(), userID).Err(); err != nil {
		return authcore.UserRecord{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return toRecord(u), nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update authcore.UserUpdate) (authcore.UserRecord, error) {
	u, err := s.load(ctx, userID)
	if err != nil {
		return authcore.UserRecord{}, err
	}

	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email != u.Email {
			claimed, err := s.redis.SetNX(ctx, s.emailKey(email), userID, 0).Result()
			if err != nil {
				return authcore.UserRecord{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
			}
			if !claimed {
				return authcore.UserRecord{}, authcore.ErrEmailTaken
			}
			if err := s.redis.Del(ctx, s.emailKey(u.Email)).Err(); err != nil {
				return authcore.UserRecord{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
			}
			u.Email = email
		}
	}
	if update.PasswordHash != nil {
		u.PasswordHash = *update.PasswordHash
	}
	if update.Permission != nil {
		u.Permission = uint8(*update.Permission)
	}

	if err := s.save(ctx, u); err != nil {
		return authcore.UserRecord{}, err
	}
	return toRecord(u), nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.userKey(userID))
		pipe.Del(ctx, s.emailKey(u.Email))
		pipe.SRem(ctx, s.allKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return nil
}

func (s *Store) EnrollTOTP(ctx context.Context, userID, secret string) error {
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	u.TOTPSecret = secret
	u.TOTPActivated = false
	return s.save(ctx, u)
}

func (s *Store) ActivateTOTP(ctx context.Context, userID string) error {
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if u.TOTPSecret == "" {
		return authcore.ErrTOTPNotEnrolled
	}
	u.TOTPActivated = true
	return s.save(ctx, u)
}

func (s *Store) DisableTOTP(ctx context.Context, userID string) error {
	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	u.TOTPSecret = ""
	u.TOTPActivated = false
	return s.save(ctx, u)
}
