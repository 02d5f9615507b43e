package balances

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ledger-core/internal/transactions"
	"github.com/angelmondragon/ledger-core/pkg/db"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/lock"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/metrics"
	"github.com/angelmondragon/ledger-core/pkg/money"
)

// ErrDrift marks a cached balance that no longer matches history. Reconcile
// reports it at fatal level once; callers wrapping it need not log again.
var ErrDrift = errors.New("cached balance drifted from history")

// UnitOfWork opens database transactions. *db.Client satisfies it.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	Dialect() string
}

// Reconciliation compares the cached balance with the one derived from history.
type Reconciliation struct {
	AccountID uuid.UUID
	Opening   decimal.Decimal
	Cached    decimal.Decimal
	Computed  decimal.Decimal
	Mismatch  bool
	Repaired  bool
}

// Drift is cached minus computed.
func (r Reconciliation) Drift() decimal.Decimal {
	return r.Cached.Sub(r.Computed)
}

// Ledger owns current_balance. Every write to it goes through ApplyDelta or Repair.
type Ledger interface {
	WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(tx *gorm.DB, acct *models.Account) error) error
	ApplyDelta(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (Reconciliation, error)
	Repair(ctx context.Context, accountID uuid.UUID) (Reconciliation, error)
}

type Options struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// LockWait bounds lock acquisition when the caller's ctx has no deadline.
	LockWait time.Duration
}

type ledger struct {
	uow     UnitOfWork
	locker  lock.Locker
	txns    transactions.Repository
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
	opts    Options
}

type heldAccountKey struct{}

// NewLedger wires the unit of work, the account locker and the transaction history.
func NewLedger(uow UnitOfWork, locker lock.Locker, txns transactions.Repository, m *metrics.LedgerMetrics, logg *logger.Logger, opts Options) (Ledger, error) {
	if uow == nil {
		return nil, fmt.Errorf("unit of work required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if txns == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 20 * time.Millisecond
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	return &ledger{uow: uow, locker: locker, txns: txns, metrics: m, logg: logg, opts: opts}, nil
}

// AccountLockKey names the critical section guarding one account.
func AccountLockKey(accountID uuid.UUID) string {
	return "account:" + accountID.String()
}

// WithAccountLock runs fn as one atomic unit against a locked, active account.
// fn may run more than once when a transient storage failure forces a retry,
// so it must not leak state between attempts.
func (l *ledger) WithAccountLock(ctx context.Context, accountID uuid.UUID, fn func(tx *gorm.DB, acct *models.Account) error) error {
	op := metrics.OpFromContext(ctx)
	backoff := l.opts.BaseBackoff
	attempts := 0

	for {
		err := l.attempt(ctx, accountID, fn)
		if err == nil {
			return nil
		}
		attempts++

		if errors.Is(err, context.Canceled) {
			return canceled(accountID, err)
		}
		if errors.Is(err, lock.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return l.contention(ctx, op, accountID, attempts, err)
		}
		if !db.IsTransient(err) {
			return err
		}
		if attempts > l.opts.MaxRetries {
			return l.contention(ctx, op, accountID, attempts, err)
		}

		l.metrics.IncRetry(op)
		l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"attempt":    attempts,
			"backoff_ms": backoff.Milliseconds(),
			"error":      err.Error(),
		}), "ledger.unit_of_work.retry")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.Canceled) {
				return canceled(accountID, ctx.Err())
			}
			return l.contention(ctx, op, accountID, attempts, ctx.Err())
		case <-timer.C:
		}
		timer.Stop()

		backoff = minDuration(backoff*2, l.opts.MaxBackoff)
	}
}

func (l *ledger) contention(ctx context.Context, op string, accountID uuid.UUID, attempts int, cause error) error {
	l.metrics.IncContention(op)
	return pkgerrors.Wrap(pkgerrors.CodeContention, cause, "account busy, retry later").
		WithDetails(map[string]any{
			"account_id": accountID.String(),
			"attempts":   attempts,
		})
}

// canceled reports a caller that gave up. It is not contention and not retryable.
func canceled(accountID uuid.UUID, cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeCanceled, cause, "request canceled").
		WithDetails(map[string]any{"account_id": accountID.String()})
}

func (l *ledger) attempt(ctx context.Context, accountID uuid.UUID, fn func(tx *gorm.DB, acct *models.Account) error) error {
	acquireCtx := ctx
	if _, ok := ctx.Deadline(); !ok && l.opts.LockWait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, l.opts.LockWait)
		defer cancel()
	}

	start := time.Now()
	release, err := l.locker.Acquire(acquireCtx, AccountLockKey(accountID))
	l.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
				"account_id": accountID.String(),
				"error":      rerr.Error(),
			}), "ledger.lock.release_failed")
		}
	}()

	return l.uow.WithTx(ctx, func(tx *gorm.DB) error {
		if err := l.setLockTimeout(ctx, tx); err != nil {
			return err
		}
		acct, err := lockAccountRow(ctx, tx, accountID)
		if err != nil {
			return err
		}
		held := tx.WithContext(context.WithValue(ctx, heldAccountKey{}, accountID))
		return fn(held, acct)
	})
}

// setLockTimeout bounds row lock waits on postgres so a stuck FOR UPDATE
// surfaces as 55P03 instead of outliving the caller.
func (l *ledger) setLockTimeout(ctx context.Context, tx *gorm.DB) error {
	if l.uow.Dialect() != db.DialectPostgres {
		return nil
	}
	wait := l.opts.LockWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if wait <= 0 {
		return nil
	}
	ms := wait.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if err := tx.WithContext(ctx).Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)).Error; err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}

func lockAccountRow(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*models.Account, error) {
	var acct models.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND deleted = ?", accountID, false).
		First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return &acct, nil
}

// ApplyDelta moves the cached balance by delta and returns the new balance.
// tx must be the handle WithAccountLock passed to its callback for accountID.
func (l *ledger) ApplyDelta(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	if !holdsAccount(tx, accountID) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeInvariant, "balance delta applied outside the account unit of work")
	}
	if err := money.Validate("delta", delta); err != nil {
		return decimal.Zero, err
	}

	var acct models.Account
	if err := tx.WithContext(ctx).
		Select("id", "current_balance").
		Where("id = ?", accountID).
		First(&acct).Error; err != nil {
		return decimal.Zero, fmt.Errorf("load balance: %w", err)
	}
	if delta.IsZero() {
		return acct.CurrentBalance, nil
	}

	next, err := money.Add(acct.CurrentBalance, delta)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "balance would leave the supported range").
			WithDetails(map[string]any{
				"field":   "amount",
				"balance": money.Format(acct.CurrentBalance),
				"delta":   money.Format(delta),
			})
	}
	if err := writeBalance(ctx, tx, accountID, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

func holdsAccount(tx *gorm.DB, accountID uuid.UUID) bool {
	if tx == nil || tx.Statement == nil || tx.Statement.Context == nil {
		return false
	}
	held, ok := tx.Statement.Context.Value(heldAccountKey{}).(uuid.UUID)
	return ok && held == accountID
}

func writeBalance(ctx context.Context, tx *gorm.DB, accountID uuid.UUID, balance decimal.Decimal) error {
	if err := tx.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{"current_balance": balance, "updated_at": time.Now().UTC()}).Error; err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

// Reconcile reads the cached balance and recomputes it from history inside one
// read transaction. It never writes.
func (l *ledger) Reconcile(ctx context.Context, accountID uuid.UUID) (Reconciliation, error) {
	var rec Reconciliation
	err := l.uow.WithTx(ctx, func(tx *gorm.DB) error {
		if l.uow.Dialect() == db.DialectPostgres {
			if err := tx.WithContext(ctx).Exec("SET TRANSACTION ISOLATION LEVEL REPEATABLE READ").Error; err != nil {
				return fmt.Errorf("set isolation: %w", err)
			}
		}
		var acct models.Account
		if err := tx.WithContext(ctx).
			Where("id = ? AND deleted = ?", accountID, false).
			First(&acct).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
			}
			return fmt.Errorf("load account: %w", err)
		}
		computed, err := l.compute(ctx, tx, &acct)
		if err != nil {
			return err
		}
		rec = reconciliation(&acct, computed)
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	if rec.Mismatch {
		l.metrics.IncReconcileMismatch()
		l.logg.Fatal(l.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"cached":     money.Format(rec.Cached),
			"computed":   money.Format(rec.Computed),
			"drift":      money.Format(rec.Drift()),
		}), "ledger.balance.drift_detected", nil)
	}
	return rec, nil
}

// Repair overwrites the cached balance with the one derived from history.
func (l *ledger) Repair(ctx context.Context, accountID uuid.UUID) (Reconciliation, error) {
	var rec Reconciliation
	err := l.WithAccountLock(ctx, accountID, func(tx *gorm.DB, acct *models.Account) error {
		computed, err := l.compute(ctx, tx, acct)
		if err != nil {
			return err
		}
		rec = reconciliation(acct, computed)
		if !rec.Mismatch {
			return nil
		}
		if err := writeBalance(ctx, tx, accountID, computed); err != nil {
			return err
		}
		rec.Repaired = true
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	if rec.Repaired {
		l.metrics.IncReconcileMismatch()
		l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
			"account_id": accountID.String(),
			"cached":     money.Format(rec.Cached),
			"computed":   money.Format(rec.Computed),
		}), "ledger.balance.repaired")
	}
	return rec, nil
}

func (l *ledger) compute(ctx context.Context, tx *gorm.DB, acct *models.Account) (decimal.Decimal, error) {
	sum, err := l.txns.WithTx(tx).SumNonDeleted(ctx, acct.ID)
	if err != nil {
		return decimal.Zero, err
	}
	computed, err := money.Add(acct.OpeningBalance, sum)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInvariant, err, "computed balance out of range")
	}
	return computed, nil
}

func reconciliation(acct *models.Account, computed decimal.Decimal) Reconciliation {
	return Reconciliation{
		AccountID: acct.ID,
		Opening:   acct.OpeningBalance,
		Cached:    acct.CurrentBalance,
		Computed:  computed,
		Mismatch:  !acct.CurrentBalance.Equal(computed),
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
