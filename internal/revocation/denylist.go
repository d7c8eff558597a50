// Package revocation keeps a Redis-backed set of revoked session tokens so
// that logout can invalidate a token before it expires.
package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist records revoked token ids until their natural expiry.
type Denylist struct {
	client *redis.Client
	now    func() time.Time
}

// NewDenylist constructs a Denylist on top of a Redis client.
func NewDenylist(client *redis.Client) *Denylist {
	return &Denylist{client: client, now: time.Now}
}

// Revoke marks the token id as revoked until expiresAt. Tokens that are
// already expired are ignored.
func (d *Denylist) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if d == nil || d.client == nil {
		return nil
	}
	if tokenID == "" {
		return errors.New("revocation: token id required")
	}
	ttl := expiresAt.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, key(tokenID), "1", ttl).Err()
}

// IsRevoked reports whether the token id has been revoked.
func (d *Denylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if d == nil || d.client == nil {
		return false, nil
	}
	n, err := d.client.Exists(ctx, key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func key(tokenID string) string {
	return "revoked:session:" + tokenID
}
