package account

import (
	"context"

	"github.com/google/uuid"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// Permission names consulted by the bridge.
const (
	PermissionCreateHub = "hub:create"
	PermissionDeleteHub = "hub:delete"
)

// Bridge is the external named-permission authority consulted for hub
// creation and deletion (§4.7): operations that cannot be protected by a
// capability rooted in the hub they bootstrap or tear down. It answers
// "may actor do permission on resourceSet", independent of the
// capability-invocation verifier used for every other hub operation.
type Bridge interface {
	Allow(ctx context.Context, actor Identity, permission string, resourceSet string) error
}

// AccountBridge is the default permission bridge: any authenticated account
// may create hubs, and may delete only hubs it created (resourceSet is the
// creator's account ID). A deployment that needs a richer authorization
// model (org roles, shared hub ownership) swaps this for another Bridge
// implementation without touching the hub facade.
type AccountBridge struct{}

// NewAccountBridge creates the default Bridge.
func NewAccountBridge() *AccountBridge { return &AccountBridge{} }

// Allow implements Bridge.
func (b *AccountBridge) Allow(_ context.Context, actor Identity, permission string, resourceSet string) error {
	if actor.AccountID == uuid.Nil {
		return apperr.PermissionDenied("no authenticated account")
	}

	switch permission {
	case PermissionCreateHub:
		return nil
	case PermissionDeleteHub:
		if resourceSet != actor.AccountID.String() {
			return apperr.PermissionDenied("account %s may not delete a hub created by another account", actor.AccountID)
		}
		return nil
	default:
		return apperr.PermissionDenied("unknown permission %q", permission)
	}
}
