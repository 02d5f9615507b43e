package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledger-core/internal/repo"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/money"
	"github.com/angelmondragon/ledger-core/pkg/pagination"
)

// Repository reads accounts. Balances are never written here; see the balances package.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, input CreateAccountInput) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListActive(ctx context.Context, params pagination.Params) ([]models.Account, string, error)
}

// CreateAccountInput seeds a new account. The cached balance starts at the opening balance.
type CreateAccountInput struct {
	ID             uuid.UUID
	Name           string
	Currency       string
	OpeningBalance decimal.Decimal
}

type repository struct {
	repo.Base
}

// NewRepository returns an account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, input CreateAccountInput) (*models.Account, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account name is required")
	}
	currency, err := enums.ParseCurrency(input.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "currency must be a 3-letter code")
	}
	if err := money.Validate("opening_balance", input.OpeningBalance); err != nil {
		return nil, err
	}

	id := input.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	account := &models.Account{
		ID:             id,
		Name:           name,
		Currency:       currency,
		OpeningBalance: input.OpeningBalance,
		CurrentBalance: input.OpeningBalance,
	}
	if err := r.DB(ctx).Create(account).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.Live(ctx, &models.Account{}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &account, nil
}

// ListActive pages through non-deleted accounts ordered by (created_at, id).
// The returned cursor is empty on the last page.
func (r *repository) ListActive(ctx context.Context, params pagination.Params) ([]models.Account, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.Live(ctx, &models.Account{})
	if cursor != nil {
		query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var rows []models.Account
	if err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("list accounts: %w", err)
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return rows, next, nil
}
