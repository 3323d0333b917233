package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vpn-sentinel/sentinel/internal/pkg/cache"
)

const (
	tokenKeyPrefix = "auth_token:"
	TokenTTL       = 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid or expired token")

// CreateToken mints an opaque bearer token for a user and stores it in
// Redis with a sliding 24h TTL.
func CreateToken(userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := cache.Set(tokenKeyPrefix+token, userID, TokenTTL); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// ResolveToken maps a bearer token back to a user id and refreshes the TTL.
func ResolveToken(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := cache.Get(tokenKeyPrefix + token)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	// Sliding expiry: active clients stay logged in.
	_ = cache.Set(tokenKeyPrefix+token, userID, TokenTTL)
	return userID, nil
}

// RevokeToken deletes a token, ending the session immediately.
func RevokeToken(token string) error {
	if token == "" {
		return nil
	}
	return cache.Delete(tokenKeyPrefix + token)
}
