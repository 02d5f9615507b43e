package balances

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledger-core/internal/transactions"
	"github.com/angelmondragon/ledger-core/pkg/db"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/lock"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/money"
)

type fixture struct {
	conn   *gorm.DB
	ledger Ledger
	locker *lock.KeyedMutex
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:balances_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.Account{}, &models.Transaction{}, &models.TransactionTag{}))

	locker := lock.NewKeyedMutex()
	l, err := NewLedger(db.FromGorm(conn), locker, transactions.NewRepository(conn), nil, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), opts)
	require.NoError(t, err)
	return fixture{conn: conn, ledger: l, locker: locker}
}

func (f fixture) seedAccount(t *testing.T, opening string) uuid.UUID {
	t.Helper()
	acct := models.Account{
		ID:             uuid.New(),
		Name:           "Checking",
		Currency:       enums.CurrencyUSD,
		OpeningBalance: decimal.RequireFromString(opening),
		CurrentBalance: decimal.RequireFromString(opening),
	}
	require.NoError(t, f.conn.Create(&acct).Error)
	return acct.ID
}

func (f fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	var acct models.Account
	require.NoError(t, f.conn.First(&acct, "id = ?", id).Error)
	return acct.CurrentBalance
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestWithAccountLockAppliesDelta(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 2})
	ctx := context.Background()
	id := f.seedAccount(t, "1000.00")

	var got decimal.Decimal
	err := f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, acct *models.Account) error {
		assert.True(t, acct.CurrentBalance.Equal(dec("1000.00")))
		var err error
		got, err = f.ledger.ApplyDelta(ctx, tx, id, dec("-60.00"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "940.00", got.StringFixed(2))
	assert.Equal(t, "940.00", f.balance(t, id).StringFixed(2))
	assert.Zero(t, f.locker.Len())
}

func TestWithAccountLockRollsBackOnError(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.seedAccount(t, "1000.00")

	boom := errors.New("boom")
	err := f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, _ *models.Account) error {
		if _, err := f.ledger.ApplyDelta(ctx, tx, id, dec("250.00")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "1000.00", f.balance(t, id).StringFixed(2))
}

func TestWithAccountLockMissingAccount(t *testing.T) {
	f := newFixture(t, Options{})
	called := false
	err := f.ledger.WithAccountLock(context.Background(), uuid.New(), func(*gorm.DB, *models.Account) error {
		called = true
		return nil
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.False(t, called)
}

func TestApplyDeltaOutsideUnitOfWork(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.seedAccount(t, "10.00")

	_, err := f.ledger.ApplyDelta(context.Background(), f.conn, id, dec("1.00"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvariant))

	other := f.seedAccount(t, "10.00")
	err = f.ledger.WithAccountLock(context.Background(), id, func(tx *gorm.DB, _ *models.Account) error {
		_, err := f.ledger.ApplyDelta(context.Background(), tx, other, dec("1.00"))
		return err
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvariant))
	assert.Equal(t, "10.00", f.balance(t, other).StringFixed(2))
}

func TestApplyDeltaRejectsOverflow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.seedAccount(t, money.SQLiteMaxMagnitude.StringFixed(2))

	err := f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, _ *models.Account) error {
		_, err := f.ledger.ApplyDelta(ctx, tx, id, dec("0.01"))
		return err
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	assert.Equal(t, "9999999999999.99", f.balance(t, id).StringFixed(2))
}

func TestApplyDeltaKeepsLargeBalancesExact(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.seedAccount(t, "9999999999999.98")

	err := f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, _ *models.Account) error {
		_, err := f.ledger.ApplyDelta(ctx, tx, id, dec("0.01"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "9999999999999.99", f.balance(t, id).StringFixed(2))

	err = f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, _ *models.Account) error {
		_, err := f.ledger.ApplyDelta(ctx, tx, id, dec("-0.03"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "9999999999999.96", f.balance(t, id).StringFixed(2))
}

func TestApplyDeltaRefusesSixteenDigitBalanceOnSQLite(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.seedAccount(t, "1234567890123456.78")
	before := f.balance(t, id)

	err := f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, _ *models.Account) error {
		_, err := f.ledger.ApplyDelta(ctx, tx, id, dec("-0.01"))
		return err
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
	assert.True(t, f.balance(t, id).Equal(before))
}

func TestWithAccountLockRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	ctx := context.Background()
	id := f.seedAccount(t, "100.00")

	var calls int
	err := f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, _ *models.Account) error {
		calls++
		if _, err := f.ledger.ApplyDelta(ctx, tx, id, dec("5.00")); err != nil {
			return err
		}
		if calls < 3 {
			return fmt.Errorf("insert: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "105.00", f.balance(t, id).StringFixed(2))
}

func TestWithAccountLockExhaustsRetries(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 1, BaseBackoff: time.Millisecond})
	id := f.seedAccount(t, "100.00")

	var calls int
	err := f.ledger.WithAccountLock(context.Background(), id, func(*gorm.DB, *models.Account) error {
		calls++
		return &pgconn.PgError{Code: "55P03"}
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention))
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, 2, calls)
}

func TestWithAccountLockDoesNotRetryDomainErrors(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 5, BaseBackoff: time.Millisecond})
	id := f.seedAccount(t, "100.00")

	var calls int
	err := f.ledger.WithAccountLock(context.Background(), id, func(*gorm.DB, *models.Account) error {
		calls++
		return pkgerrors.New(pkgerrors.CodeValidation, "bad input")
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 1, calls)
}

func TestWithAccountLockTimesOutWhileHeld(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.seedAccount(t, "100.00")

	release, err := f.locker.Acquire(context.Background(), AccountLockKey(id))
	require.NoError(t, err)
	defer release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err = f.ledger.WithAccountLock(ctx, id, func(*gorm.DB, *models.Account) error {
		called = true
		return nil
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention), "got %v", err)
	assert.ErrorIs(t, err, lock.ErrTimeout)
	assert.False(t, called)
}

func TestWithAccountLockCanceledWhileHeld(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 3})
	id := f.seedAccount(t, "100.00")

	release, err := f.locker.Acquire(context.Background(), AccountLockKey(id))
	require.NoError(t, err)
	defer release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err = f.ledger.WithAccountLock(ctx, id, func(*gorm.DB, *models.Account) error { return nil })
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCanceled), "got %v", err)
	assert.False(t, pkgerrors.IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
}

type timeoutLocker struct{}

func (timeoutLocker) Acquire(ctx context.Context, key string) (lock.Release, error) {
	return nil, fmt.Errorf("%w: %s", lock.ErrTimeout, key)
}

func TestWithAccountLockHonoursLocker(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.seedAccount(t, "100.00")

	l, err := NewLedger(db.FromGorm(f.conn), timeoutLocker{}, transactions.NewRepository(f.conn), nil, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), Options{MaxRetries: 3})
	require.NoError(t, err)

	err = l.WithAccountLock(context.Background(), id, func(*gorm.DB, *models.Account) error { return nil })
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention))
}

func TestConcurrentDeltasSumExactly(t *testing.T) {
	f := newFixture(t, Options{MaxRetries: 3, BaseBackoff: time.Millisecond})
	id := f.seedAccount(t, "1000.00")

	const workers = 20
	var (
		wg       sync.WaitGroup
		failures atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			err := f.ledger.WithAccountLock(ctx, id, func(tx *gorm.DB, _ *models.Account) error {
				_, err := f.ledger.ApplyDelta(ctx, tx, id, dec("1.25"))
				return err
			})
			if err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	assert.Equal(t, "1025.00", f.balance(t, id).StringFixed(2))
}

func TestReconcileAndRepair(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.seedAccount(t, "1000.00")

	parent := models.Transaction{ID: uuid.New(), AccountID: id, Date: time.Now().UTC(), Amount: dec("-100.00"), Currency: enums.CurrencyUSD, Type: enums.TransactionTypeExpense, CreatedBy: uuid.New()}
	require.NoError(t, f.conn.Create(&parent).Error)
	child := models.Transaction{ID: uuid.New(), AccountID: id, ParentTransactionID: &parent.ID, Date: time.Now().UTC(), Amount: dec("-100.00"), Currency: enums.CurrencyUSD, Type: enums.TransactionTypeExpense, CreatedBy: uuid.New()}
	require.NoError(t, f.conn.Create(&child).Error)
	gone := models.Transaction{ID: uuid.New(), AccountID: id, Date: time.Now().UTC(), Amount: dec("-40.00"), Currency: enums.CurrencyUSD, Type: enums.TransactionTypeExpense, CreatedBy: uuid.New(), Deleted: true}
	require.NoError(t, f.conn.Create(&gone).Error)

	rec, err := f.ledger.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Mismatch)
	assert.Equal(t, "1000.00", rec.Cached.StringFixed(2))
	assert.Equal(t, "900.00", rec.Computed.StringFixed(2))
	assert.Equal(t, "100.00", rec.Drift().StringFixed(2))
	assert.Equal(t, "1000.00", f.balance(t, id).StringFixed(2), "reconcile must not write")

	rec, err = f.ledger.Repair(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Mismatch)
	assert.True(t, rec.Repaired)
	assert.Equal(t, "900.00", f.balance(t, id).StringFixed(2))

	rec, err = f.ledger.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.Mismatch)

	rec, err = f.ledger.Repair(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.Repaired)
}

func TestReconcileMissingAccount(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.ledger.Reconcile(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNewLedgerValidation(t *testing.T) {
	f := newFixture(t, Options{})
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	txns := transactions.NewRepository(f.conn)

	_, err := NewLedger(nil, lock.NewKeyedMutex(), txns, nil, logg, Options{})
	require.Error(t, err)
	_, err = NewLedger(db.FromGorm(f.conn), nil, txns, nil, logg, Options{})
	require.Error(t, err)
	_, err = NewLedger(db.FromGorm(f.conn), lock.NewKeyedMutex(), nil, nil, logg, Options{})
	require.Error(t, err)
	_, err = NewLedger(db.FromGorm(f.conn), lock.NewKeyedMutex(), txns, nil, nil, Options{})
	require.Error(t, err)
}
