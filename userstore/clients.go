package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/blufax/authcore"
	"github.com/blufax/authcore/internal"
	"github.com/blufax/authcore/password"
)

// Clients implements authcore.ClientProvider on Redis and owns client
// registration. The plaintext client secret exists only in the return value
// of Register; the store keeps its argon2id hash.
type Clients struct {
	redis  redis.UniversalClient
	prefix string
	hasher *password.Hasher
}

// NewClients returns a client registry. prefix empty means "acl".
func NewClients(redisClient redis.UniversalClient, prefix string, hasher *password.Hasher) *Clients {
	if prefix == "" {
		prefix = "acl"
	}
	return &Clients{redis: redisClient, prefix: prefix, hasher: hasher}
}

type clientRecord struct {
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Website     string `json:"website,omitempty"`
	RedirectURI string `json:"redirect_uri"`
	SecretHash  string `json:"secret_hash"`
}

func (c *Clients) key(clientID string) string { return c.prefix + ":" + clientID }
func (c *Clients) allKey() string             { return c.prefix + ":all" }

// Registration is the one-time output of Register.
type Registration struct {
	Client authcore.ClientRecord
	Secret string
}

// Register creates a client registration and mints its secret.
func (c *Clients) Register(ctx context.Context, name, website, redirectURI string) (Registration, error) {
	if name == "" || redirectURI == "" {
		return Registration{}, errors.New("userstore: client name and redirect uri required")
	}

	secret, err := internal.TokenBase64(internal.DefaultTokenBytes)
	if err != nil {
		return Registration{}, err
	}
	secretHash, err := c.hasher.Hash(secret)
	if err != nil {
		return Registration{}, err
	}

	record := clientRecord{
		ClientID:    uuid.NewString(),
		Name:        name,
		Website:     website,
		RedirectURI: redirectURI,
		SecretHash:  secretHash,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(record.ClientID), data, 0)
		pipe.SAdd(ctx, c.allKey(), record.ClientID)
		return nil
	})
	if err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}

	return Registration{
		Client: authcore.ClientRecord{
			ClientID:    record.ClientID,
			Name:        record.Name,
			Website:     record.Website,
			RedirectURI: record.RedirectURI,
			SecretHash:  record.SecretHash,
		},
		Secret: secret,
	}, nil
}

func (c *Clients) GetClient(ctx context.Context, clientID string) (authcore.ClientRecord, error) {
	data, err := c.redis.Get(ctx, c.key(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return authcore.ClientRecord{}, authcore.ErrClientNotFound
		}
		return authcore.ClientRecord{}, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	var record clientRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return authcore.ClientRecord{}, fmt.Errorf("%w: corrupt client record: %v", ErrStoreBackend, err)
	}
	return authcore.ClientRecord{
		ClientID:    record.ClientID,
		Name:        record.Name,
		Website:     record.Website,
		RedirectURI: record.RedirectURI,
		SecretHash:  record.SecretHash,
	}, nil
}

// DeleteClient removes a registration. Tokens it already obtained live out
// their term.
func (c *Clients) DeleteClient(ctx context.Context, clientID string) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(clientID))
		pipe.SRem(ctx, c.allKey(), clientID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	return nil
}

// ListClients returns every registration.
func (c *Clients) ListClients(ctx context.Context) ([]authcore.ClientRecord, error) {
	ids, err := c.redis.SMembers(ctx, c.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreBackend, err)
	}
	clients := make([]authcore.ClientRecord, 0, len(ids))
	for _, id := range ids {
		client, err := c.GetClient(ctx, id)
		if err != nil {
			if errors.Is(err, authcore.ErrClientNotFound) {
				continue
			}
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}
