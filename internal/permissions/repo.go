package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledger-core/internal/repo"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// Repository reads permission grants. Grants are owned by the account
// sharing feature; Upsert exists for seeding and tests.
type Repository struct {
	repo.Base
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindGrant returns the grant for (account, user) or nil when none exists.
func (r *Repository) FindGrant(ctx context.Context, accountID, userID uuid.UUID) (*models.PermissionGrant, error) {
	var grant models.PermissionGrant
	err := r.DB(ctx).
		Where("account_id = ? AND user_id = ?", accountID, userID).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load permission grant: %w", err)
	}
	return &grant, nil
}

// Upsert writes or replaces the tier for (account, user).
func (r *Repository) Upsert(ctx context.Context, accountID, userID uuid.UUID, tier enums.PermissionTier) error {
	if !tier.IsValid() {
		return fmt.Errorf("invalid permission tier %q", tier)
	}
	grant := &models.PermissionGrant{AccountID: accountID, UserID: userID, Tier: tier}
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tier", "updated_at"}),
		}).
		Create(grant).Error
}
