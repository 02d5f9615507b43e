package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/money"
)

// Repository persists transactions, their split links and tags.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID, opts ...GetOption) (*models.Transaction, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Transaction, error)
	SoftDelete(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
	SoftDeleteChildren(ctx context.Context, parentID uuid.UUID) ([]uuid.UUID, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]models.Transaction, error)
	HasChildren(ctx context.Context, parentID uuid.UUID) (bool, error)
	Parent(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	SumNonDeleted(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	ListActiveByImportBatch(ctx context.Context, accountID, batchID uuid.UUID) ([]models.Transaction, error)
	Tags(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func notFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
}

// Create assigns id and timestamps and persists txn with its tags. An empty
// currency inherits the account's.
func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	if txn.Amount.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-zero")
	}
	if err := money.Validate("amount", txn.Amount); err != nil {
		return err
	}

	db := r.db.WithContext(ctx)

	var account models.Account
	if err := db.Select("id", "currency").
		Where("id = ? AND deleted = ?", txn.AccountID, false).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return fmt.Errorf("load account currency: %w", err)
	}

	txn.Currency = enums.Currency(strings.ToUpper(strings.TrimSpace(string(txn.Currency))))
	if txn.Currency == "" {
		txn.Currency = account.Currency
	}
	if txn.Currency != account.Currency {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "currency %s does not match account currency %s", txn.Currency, account.Currency).
			WithDetails(map[string]any{"field": "currency", "expected": account.Currency.String()})
	}

	if txn.ParentTransactionID != nil {
		parent, err := r.GetByID(ctx, *txn.ParentTransactionID)
		if err != nil {
			return err
		}
		if parent.AccountID != txn.AccountID {
			return pkgerrors.New(pkgerrors.CodeValidation, "split child must belong to the parent's account")
		}
		if parent.IsSplitChild() {
			return pkgerrors.New(pkgerrors.CodeValidation, "cannot split a split child")
		}
	}

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.Date = DateOnly(txn.Date)
	if txn.ValueDate != nil {
		vd := DateOnly(*txn.ValueDate)
		txn.ValueDate = &vd
	}
	txn.Deleted = false
	txn.DeletedAt = nil
	txn.Tags = NormalizeTags(txn.Tags)

	if err := db.Create(txn).Error; err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return r.replaceTags(ctx, txn.ID, txn.Tags)
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID, opts ...GetOption) (*models.Transaction, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	query := r.db.WithContext(ctx).Where("id = ?", id)
	if !o.includeDeleted {
		query = query.Where("deleted = ?", false)
	}

	var txn models.Transaction
	if err := query.First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound()
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}

	tags, err := r.Tags(ctx, []uuid.UUID{txn.ID})
	if err != nil {
		return nil, err
	}
	txn.Tags = tags[txn.ID]
	if txn.Tags == nil {
		txn.Tags = []string{}
	}
	return &txn, nil
}

// Update applies patch to an active transaction. Account and currency may be
// echoed back unchanged but never altered.
func (r *repository) Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Transaction, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.AccountID != nil && *patch.AccountID != current.AccountID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account_id is immutable").
			WithDetails(map[string]any{"field": "account_id"})
	}
	if patch.Currency != nil && !strings.EqualFold(strings.TrimSpace(*patch.Currency), current.Currency.String()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency is immutable").
			WithDetails(map[string]any{"field": "currency"})
	}

	updates := map[string]any{}
	if patch.Amount != nil {
		if patch.Amount.IsZero() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-zero")
		}
		if err := money.Validate("amount", *patch.Amount); err != nil {
			return nil, err
		}
		updates["amount"] = *patch.Amount
	}
	if patch.Date != nil {
		updates["date"] = DateOnly(*patch.Date)
	}
	if patch.ClearValueDate {
		updates["value_date"] = nil
	} else if patch.ValueDate != nil {
		updates["value_date"] = DateOnly(*patch.ValueDate)
	}
	if patch.Description != nil {
		updates["description"] = strings.TrimSpace(*patch.Description)
	}
	if patch.Merchant != nil {
		updates["merchant"] = optionalString(patch.Merchant)
	}
	if patch.Type != nil {
		updates["type"] = *patch.Type
	}
	if patch.Category != nil {
		updates["category"] = optionalString(patch.Category)
	}
	if patch.Notes != nil {
		updates["notes"] = optionalString(patch.Notes)
	}

	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).
			Model(&models.Transaction{}).
			Where("id = ? AND deleted = ?", id, false).
			Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update transaction: %w", err)
		}
	}
	if patch.Tags != nil {
		if err := r.replaceTags(ctx, id, NormalizeTags(*patch.Tags)); err != nil {
			return nil, err
		}
	}

	return r.GetByID(ctx, id)
}

// SoftDelete marks an active transaction deleted, cascading to its active
// children. It returns every id it touched, target first. Split children are
// rejected; joining the parent is the only way to remove them.
func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	txn, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.IsSplitChild() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "split child cannot be deleted on its own; join the parent instead")
	}

	childIDs, err := r.SoftDeleteChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.markDeleted(ctx, []uuid.UUID{id}); err != nil {
		return nil, err
	}
	return append([]uuid.UUID{id}, childIDs...), nil
}

func (r *repository) SoftDeleteChildren(ctx context.Context, parentID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("parent_transaction_id = ? AND deleted = ?", parentID, false).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	if len(ids) == 0 {
		return []uuid.UUID{}, nil
	}
	if err := r.markDeleted(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) markDeleted(ctx context.Context, ids []uuid.UUID) error {
	now := time.Now().UTC()
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id IN ? AND deleted = ?", ids, false).
		Updates(map[string]any{"deleted": true, "deleted_at": now}).Error; err != nil {
		return fmt.Errorf("soft delete transactions: %w", err)
	}
	return nil
}

func (r *repository) Children(ctx context.Context, parentID uuid.UUID) ([]models.Transaction, error) {
	var children []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("parent_transaction_id = ? AND deleted = ?", parentID, false).
		Order("created_at ASC").
		Order("id ASC").
		Find(&children).Error; err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	if err := r.attachTags(ctx, children); err != nil {
		return nil, err
	}
	return children, nil
}

func (r *repository) HasChildren(ctx context.Context, parentID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("parent_transaction_id = ? AND deleted = ?", parentID, false).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count children: %w", err)
	}
	return count > 0, nil
}

// Parent returns the active parent of a split child, or nil for top-level rows.
func (r *repository) Parent(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.ParentTransactionID == nil {
		return nil, nil
	}
	return r.GetByID(ctx, *txn.ParentTransactionID)
}

// SumNonDeleted adds the amounts of active top-level transactions exactly.
// Split children are allocation detail of an already counted parent.
func (r *repository) SumNonDeleted(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("account_id = ? AND deleted = ? AND parent_transaction_id IS NULL", accountID, false).
		Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, fmt.Errorf("sum transactions: %w", err)
	}
	total, err := money.Sum(amounts...)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInvariant, err, "transaction sum out of range")
	}
	return total, nil
}

func (r *repository) ListActiveByImportBatch(ctx context.Context, accountID, batchID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND import_batch_id = ? AND deleted = ? AND parent_transaction_id IS NULL", accountID, batchID, false).
		Order("date ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list import batch: %w", err)
	}
	return rows, nil
}

// Tags loads tag sets for the given transaction ids.
func (r *repository) Tags(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := make(map[uuid.UUID][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.TransactionTag
	if err := r.db.WithContext(ctx).
		Where("transaction_id IN ?", ids).
		Order("tag ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	for _, row := range rows {
		out[row.TransactionID] = append(out[row.TransactionID], row.Tag)
	}
	return out, nil
}

func (r *repository) attachTags(ctx context.Context, txns []models.Transaction) error {
	ids := make([]uuid.UUID, len(txns))
	for i := range txns {
		ids[i] = txns[i].ID
	}
	tags, err := r.Tags(ctx, ids)
	if err != nil {
		return err
	}
	for i := range txns {
		txns[i].Tags = tags[txns[i].ID]
		if txns[i].Tags == nil {
			txns[i].Tags = []string{}
		}
	}
	return nil
}

func (r *repository) replaceTags(ctx context.Context, id uuid.UUID, tags []string) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("transaction_id = ?", id).Delete(&models.TransactionTag{}).Error; err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	if len(tags) == 0 {
		return nil
	}
	rows := make([]models.TransactionTag, len(tags))
	for i, tag := range tags {
		rows[i] = models.TransactionTag{TransactionID: id, Tag: tag}
	}
	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert tags: %w", err)
	}
	return nil
}
