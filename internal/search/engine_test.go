package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledger-core/internal/transactions"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
)

type searchFixture struct {
	engine    Engine
	store     transactions.Repository
	accountID uuid.UUID
}

func newSearchFixture(t *testing.T) searchFixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:search_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Account{}, &models.Transaction{}, &models.TransactionTag{}))

	acct := models.Account{ID: uuid.New(), Name: "Checking", Currency: enums.CurrencyUSD, OpeningBalance: decimal.Zero, CurrentBalance: decimal.Zero}
	require.NoError(t, conn.Create(&acct).Error)

	store := transactions.NewRepository(conn)
	engine, err := NewEngine(conn, store)
	require.NoError(t, err)
	return searchFixture{engine: engine, store: store, accountID: acct.ID}
}

func (f searchFixture) add(t *testing.T, day int, amt, description, merchant string, typ enums.TransactionType, tags ...string) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		AccountID:   f.accountID,
		Date:        time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString(amt),
		Description: description,
		Type:        typ,
		CreatedBy:   uuid.New(),
		Tags:        tags,
	}
	if merchant != "" {
		txn.Merchant = &merchant
	}
	require.NoError(t, f.store.Create(context.Background(), txn))
	return txn
}

func ids(items []models.Transaction) []uuid.UUID {
	out := make([]uuid.UUID, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestSearchExactPredicates(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	salary := f.add(t, 1, "2500.00", "March salary", "Acme Corp", enums.TransactionTypeIncome, "work")
	rent := f.add(t, 3, "-1200.00", "Rent", "Landlord LLC", enums.TransactionTypeExpense, "housing", "fixed")
	coffee := f.add(t, 10, "-4.50", "Coffee", "Starbucks", enums.TransactionTypeExpense, "food")
	groceries := f.add(t, 20, "-82.15", "Grocery run", "Whole Foods", enums.TransactionTypeExpense, "food", "household")
	deleted := f.add(t, 21, "-15.00", "Cinema", "", enums.TransactionTypeExpense, "fun")
	_, err := f.store.SoftDelete(ctx, deleted.ID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		filters Filters
		want    []uuid.UUID
	}{
		{name: "all active, date desc", filters: Filters{}, want: []uuid.UUID{groceries.ID, coffee.ID, rent.ID, salary.ID}},
		{name: "date range", filters: Filters{DateFrom: ptr(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)), DateTo: ptr(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))}, want: []uuid.UUID{coffee.ID, rent.ID}},
		{name: "amount range", filters: Filters{AmountMin: ptr(decimal.RequireFromString("-100")), AmountMax: ptr(decimal.RequireFromString("0"))}, want: []uuid.UUID{groceries.ID, coffee.ID}},
		{name: "type", filters: Filters{Type: ptr(enums.TransactionTypeIncome)}, want: []uuid.UUID{salary.ID}},
		{name: "any tag", filters: Filters{Tags: []string{"housing", "work", "missing"}}, want: []uuid.UUID{rent.ID, salary.ID}},
		{name: "tag and amount", filters: Filters{Tags: []string{"food"}, AmountMax: ptr(decimal.RequireFromString("-10"))}, want: []uuid.UUID{groceries.ID}},
		{name: "amount asc", filters: Filters{SortBy: SortByAmount, SortOrder: SortAsc}, want: []uuid.UUID{rent.ID, groceries.ID, coffee.ID, salary.ID}},
		{name: "deleted tag never matches", filters: Filters{Tags: []string{"fun"}}, want: []uuid.UUID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.engine.Search(ctx, f.accountID, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.Items))
			assert.Equal(t, int64(len(tt.want)), res.Total)
		})
	}
}

func TestSearchTotalIgnoresPaging(t *testing.T) {
	f := newSearchFixture(t)
	for day := 1; day <= 7; day++ {
		f.add(t, day, "-1.00", "Parking", "", enums.TransactionTypeExpense)
	}

	res, err := f.engine.Search(context.Background(), f.accountID, Filters{Offset: 5, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Total)
	assert.Len(t, res.Items, 2)

	res, err = f.engine.Search(context.Background(), f.accountID, Filters{Offset: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Total)
	assert.Empty(t, res.Items)

	res, err = f.engine.Search(context.Background(), f.accountID, Filters{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Limit)

	res, err = f.engine.Search(context.Background(), f.accountID, Filters{})
	require.NoError(t, err)
	assert.Equal(t, 25, res.Limit)
}

func TestSearchFuzzyTextRanksBySimilarity(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	exact := f.add(t, 2, "-82.15", "Grocery run", "Whole Foods", enums.TransactionTypeExpense)
	typo := f.add(t, 5, "-12.00", "Grocey store", "Corner Shop", enums.TransactionTypeExpense)
	f.add(t, 6, "-4.50", "Coffee", "Starbucks", enums.TransactionTypeExpense)

	res, err := f.engine.Search(ctx, f.accountID, Filters{DescriptionLike: "grocery"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{exact.ID, typo.ID}, ids(res.Items))
	assert.Equal(t, int64(2), res.Total)

	res, err = f.engine.Search(ctx, f.accountID, Filters{MerchantLike: "Starbcks"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Coffee", res.Items[0].Description)

	res, err = f.engine.Search(ctx, f.accountID, Filters{DescriptionLike: "grocery", MerchantLike: "whole"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{exact.ID}, ids(res.Items))

	res, err = f.engine.Search(ctx, f.accountID, Filters{DescriptionLike: "grocery", SortBy: SortByDate, SortOrder: SortDesc})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{typo.ID, exact.ID}, ids(res.Items))
}

func TestSearchRejectsBadFilters(t *testing.T) {
	f := newSearchFixture(t)
	bad := []Filters{
		{Offset: -1},
		{SortBy: "merchant"},
		{SortOrder: "sideways"},
		{DateFrom: ptr(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)), DateTo: ptr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))},
		{AmountMin: ptr(decimal.RequireFromString("10")), AmountMax: ptr(decimal.RequireFromString("1"))},
		{Type: ptr(enums.TransactionType("lottery"))},
	}
	for _, filters := range bad {
		_, err := f.engine.Search(context.Background(), f.accountID, filters)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "filters %+v gave %v", filters, err)
	}
}

func TestSearchLoadsTags(t *testing.T) {
	f := newSearchFixture(t)
	f.add(t, 1, "-5.00", "Lunch", "", enums.TransactionTypeExpense, "food", " work ", "food")

	res, err := f.engine.Search(context.Background(), f.accountID, Filters{Tags: []string{"food"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, []string{"food", "work"}, res.Items[0].Tags)
}
