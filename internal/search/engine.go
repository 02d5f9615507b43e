package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledger-core/internal/transactions"
	"github.com/angelmondragon/ledger-core/pkg/db"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/pagination"
)

const (
	SortByDate        = "date"
	SortByAmount      = "amount"
	SortByDescription = "description"
	SortByCreatedAt   = "created_at"

	SortAsc  = "asc"
	SortDesc = "desc"
)

var sortColumns = map[string]string{
	SortByDate:        "date",
	SortByAmount:      "amount",
	SortByDescription: "description",
	SortByCreatedAt:   "created_at",
}

// Filters narrows a search. Zero values mean "no constraint".
type Filters struct {
	DateFrom        *time.Time
	DateTo          *time.Time
	AmountMin       *decimal.Decimal
	AmountMax       *decimal.Decimal
	DescriptionLike string
	MerchantLike    string
	Tags            []string
	Type            *enums.TransactionType
	SortBy          string
	SortOrder       string
	Offset          int
	Limit           int
}

func (f Filters) hasText() bool {
	return strings.TrimSpace(f.DescriptionLike) != "" || strings.TrimSpace(f.MerchantLike) != ""
}

// Result is one page of matches. Total ignores Offset and Limit.
type Result struct {
	Items  []models.Transaction
	Total  int64
	Offset int
	Limit  int
}

type Engine interface {
	Search(ctx context.Context, accountID uuid.UUID, filters Filters) (Result, error)
}

type engine struct {
	db   *gorm.DB
	txns transactions.Repository
}

func NewEngine(conn *gorm.DB, txns transactions.Repository) (Engine, error) {
	if conn == nil {
		return nil, fmt.Errorf("db required")
	}
	if txns == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	return &engine{db: conn, txns: txns}, nil
}

func (e *engine) Search(ctx context.Context, accountID uuid.UUID, filters Filters) (Result, error) {
	page, err := pagination.NormalizePage(filters.Offset, filters.Limit)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()).
			WithDetails(map[string]any{"field": "offset"})
	}
	if err := validate(filters); err != nil {
		return Result{}, err
	}

	result := Result{Items: []models.Transaction{}, Offset: page.Offset, Limit: page.Limit}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == db.DialectPostgres {
			if err := tx.Exec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ READ ONLY").Error; err != nil {
				return fmt.Errorf("set isolation: %w", err)
			}
		}

		if filters.hasText() {
			return e.fuzzy(ctx, tx, accountID, filters, page, &result)
		}
		return e.exact(ctx, tx, accountID, filters, page, &result)
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *engine) exact(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, filters Filters, page pagination.Page, out *Result) error {
	if err := predicates(tx.Model(&models.Transaction{}), accountID, filters).Count(&out.Total).Error; err != nil {
		return fmt.Errorf("count transactions: %w", err)
	}
	if out.Total == 0 || int64(page.Offset) >= out.Total {
		return nil
	}

	var rows []models.Transaction
	query := orderBy(predicates(tx.Model(&models.Transaction{}), accountID, filters), filters)
	if err := query.Offset(page.Offset).Limit(page.Limit).Find(&rows).Error; err != nil {
		return fmt.Errorf("search transactions: %w", err)
	}
	return e.attach(ctx, tx, rows, out)
}

type scored struct {
	txn   models.Transaction
	score float64
}

// fuzzy applies the SQL predicates, then matches text in memory so typos still hit.
func (e *engine) fuzzy(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, filters Filters, page pagination.Page, out *Result) error {
	var candidates []models.Transaction
	if err := orderBy(predicates(tx.Model(&models.Transaction{}), accountID, filters), filters).Find(&candidates).Error; err != nil {
		return fmt.Errorf("search transactions: %w", err)
	}

	descQuery := normalizeText(filters.DescriptionLike)
	merchantQuery := normalizeText(filters.MerchantLike)

	matches := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		descScore, ok := similarity(descQuery, c.Description)
		if !ok {
			continue
		}
		merchant := ""
		if c.Merchant != nil {
			merchant = *c.Merchant
		}
		merchantScore, ok := similarity(merchantQuery, merchant)
		if !ok {
			continue
		}
		matches = append(matches, scored{txn: c, score: descScore + merchantScore})
	}

	// Candidates arrive in the requested order; without an explicit sort the
	// best match leads and date desc breaks ties.
	if strings.TrimSpace(filters.SortBy) == "" {
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].score != matches[j].score {
				return matches[i].score > matches[j].score
			}
			return matches[i].txn.Date.After(matches[j].txn.Date)
		})
	}

	out.Total = int64(len(matches))
	if page.Offset >= len(matches) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(matches) {
		end = len(matches)
	}

	rows := make([]models.Transaction, 0, end-page.Offset)
	for _, m := range matches[page.Offset:end] {
		rows = append(rows, m.txn)
	}
	return e.attach(ctx, tx, rows, out)
}

func (e *engine) attach(ctx context.Context, tx *gorm.DB, rows []models.Transaction, out *Result) error {
	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	tags, err := e.txns.WithTx(tx).Tags(ctx, ids)
	if err != nil {
		return err
	}
	for i := range rows {
		rows[i].Tags = tags[rows[i].ID]
		if rows[i].Tags == nil {
			rows[i].Tags = []string{}
		}
	}
	out.Items = rows
	return nil
}

func predicates(query *gorm.DB, accountID uuid.UUID, f Filters) *gorm.DB {
	query = query.Where("account_id = ? AND deleted = ?", accountID, false)
	if f.DateFrom != nil {
		query = query.Where("date >= ?", transactions.DateOnly(*f.DateFrom))
	}
	if f.DateTo != nil {
		query = query.Where("date <= ?", transactions.DateOnly(*f.DateTo))
	}
	if f.AmountMin != nil {
		query = query.Where("amount >= ?", *f.AmountMin)
	}
	if f.AmountMax != nil {
		query = query.Where("amount <= ?", *f.AmountMax)
	}
	if f.Type != nil {
		query = query.Where("type = ?", *f.Type)
	}
	if tags := transactions.NormalizeTags(f.Tags); len(tags) > 0 {
		query = query.Where("EXISTS (SELECT 1 FROM transaction_tags tt WHERE tt.transaction_id = transactions.id AND tt.tag IN ?)", tags)
	}
	return query
}

func orderBy(query *gorm.DB, f Filters) *gorm.DB {
	column := sortColumns[SortByDate]
	if c, ok := sortColumns[strings.ToLower(strings.TrimSpace(f.SortBy))]; ok {
		column = c
	}
	desc := !strings.EqualFold(strings.TrimSpace(f.SortOrder), SortAsc)
	return query.
		Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc})
}

func validate(f Filters) error {
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return pkgerrors.New(pkgerrors.CodeValidation, "date_from must not be after date_to").
			WithDetails(map[string]any{"field": "date_from"})
	}
	if f.AmountMin != nil && f.AmountMax != nil && f.AmountMin.GreaterThan(*f.AmountMax) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount_min must not exceed amount_max").
			WithDetails(map[string]any{"field": "amount_min"})
	}
	if f.Type != nil && !f.Type.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown transaction type %q", *f.Type).
			WithDetails(map[string]any{"field": "type"})
	}
	if by := strings.ToLower(strings.TrimSpace(f.SortBy)); by != "" {
		if _, ok := sortColumns[by]; !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, "sort_by must be one of date, amount, description, created_at").
				WithDetails(map[string]any{"field": "sort_by"})
		}
	}
	switch strings.ToLower(strings.TrimSpace(f.SortOrder)) {
	case "", SortAsc, SortDesc:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "sort_order must be asc or desc").
			WithDetails(map[string]any{"field": "sort_order"})
	}
	return nil
}
