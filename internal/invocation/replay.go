package invocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// ReplayGuard rejects a second invocation carrying the same (keyId,
// created) pair within its validity window. Not named directly by the
// verification protocol in §4.5, but required to make "created" and
// "expires" mean anything: without it, a captured signature is replayable
// for its entire expiry window.
type ReplayGuard struct {
	rdb *redis.Client
}

// NewReplayGuard creates a ReplayGuard backed by rdb.
func NewReplayGuard(rdb *redis.Client) *ReplayGuard {
	return &ReplayGuard{rdb: rdb}
}

// Check records (keyID, created) as seen and returns an error if it was
// already seen within ttl. The record is set with NX semantics so
// concurrent requests carrying the same nonce cannot both pass.
func (g *ReplayGuard) Check(ctx context.Context, keyID string, created int64, ttl time.Duration) error {
	if g.rdb == nil {
		return nil
	}

	key := fmt.Sprintf("invocation:nonce:%s:%d", keyID, created)
	ok, err := g.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return apperr.Wrap(apperr.KindData, err, "checking invocation replay cache")
	}
	if !ok {
		return apperr.NotAllowed("invocation signature already used")
	}
	return nil
}
