package permissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
)

// GrantReader is the read side of the grant store.
type GrantReader interface {
	FindGrant(ctx context.Context, accountID, userID uuid.UUID) (*models.PermissionGrant, error)
}

// Resolver maps (user, account) to an effective tier.
type Resolver interface {
	Resolve(ctx context.Context, userID, accountID uuid.UUID) (enums.PermissionTier, error)
	Require(ctx context.Context, userID, accountID uuid.UUID, min enums.PermissionTier) error
	IsSystemAdmin(userID uuid.UUID) bool
}

type resolver struct {
	grants GrantReader
	admins map[uuid.UUID]struct{}
}

// NewResolver builds a Resolver. adminIDs are user ids that resolve to owner on every account.
func NewResolver(grants GrantReader, adminIDs []string) (Resolver, error) {
	if grants == nil {
		return nil, fmt.Errorf("grant reader required")
	}
	admins := make(map[uuid.UUID]struct{}, len(adminIDs))
	for _, raw := range adminIDs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid system admin id %q: %w", raw, err)
		}
		admins[id] = struct{}{}
	}
	return &resolver{grants: grants, admins: admins}, nil
}

func (r *resolver) IsSystemAdmin(userID uuid.UUID) bool {
	_, ok := r.admins[userID]
	return ok
}

// Resolve returns PermissionTierNone with a not-found error when the user has
// no grant, so callers cannot tell a private account from a missing one.
func (r *resolver) Resolve(ctx context.Context, userID, accountID uuid.UUID) (enums.PermissionTier, error) {
	if userID == uuid.Nil {
		return enums.PermissionTierNone, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}
	if r.IsSystemAdmin(userID) {
		return enums.PermissionTierOwner, nil
	}

	grant, err := r.grants.FindGrant(ctx, accountID, userID)
	if err != nil {
		return enums.PermissionTierNone, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve permission")
	}
	if grant == nil || !grant.Tier.IsValid() {
		return enums.PermissionTierNone, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return grant.Tier, nil
}

func (r *resolver) Require(ctx context.Context, userID, accountID uuid.UUID, min enums.PermissionTier) error {
	tier, err := r.Resolve(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if !tier.AtLeast(min) {
		return pkgerrors.Newf(pkgerrors.CodeForbidden, "%s access required, have %s", min, tier).
			WithDetails(map[string]any{"required": min.String(), "tier": tier.String()})
	}
	return nil
}
