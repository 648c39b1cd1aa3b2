// Package session keeps refresh tokens and the access-token denylist in
// Redis, so several API replicas can share sign-ins.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("token not found or expired")

const DefaultPrefix = "kanban:"

// RedisStore layout, relative to prefix:
//
//	refresh:<hash>   user id, expiring with the refresh token
//	user:<id>        set of that user's refresh hashes
//	revoked:<jti>    present while a revoked access token is still unexpired
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and checks the server answers.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, DefaultPrefix), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) refreshKey(hash string) string { return s.prefix + "refresh:" + hash }
func (s *RedisStore) userKey(userID string) string  { return s.prefix + "user:" + userID }
func (s *RedisStore) revokedKey(jti string) string  { return s.prefix + "revoked:" + jti }

// SaveRefreshSession stores tokenHash until expiresAt and indexes it under
// the user. Already expired sessions are dropped.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	userKey := s.userKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.refreshKey(tokenHash), userID, ttl)
		pipe.SAdd(ctx, userKey, tokenHash)
		// Sessions share one TTL, so the newest one outlives the rest.
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// ConsumeRefreshSession deletes the refresh token and returns its user in one
// GETDEL, so a token can be spent only once.
func (s *RedisStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.client.GetDel(ctx, s.refreshKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && userID == "") {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume refresh session: %w", err)
	}
	if err := s.client.SRem(ctx, s.userKey(userID), tokenHash).Err(); err != nil {
		return "", fmt.Errorf("unindex refresh session: %w", err)
	}
	return userID, nil
}

// RevokeRefreshSession deletes one refresh token. Unknown tokens are ignored.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.ConsumeRefreshSession(ctx, tokenHash); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

// RevokeUserSessions deletes every refresh token indexed under userID.
func (s *RedisStore) RevokeUserSessions(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	hashes, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, s.refreshKey(hash))
	}
	keys = append(keys, userKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// RevokeAccessToken denylists jti until the token would have expired anyway.
func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.SetNX(ctx, s.revokedKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
