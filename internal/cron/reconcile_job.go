package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/ledger-core/internal/balances"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/money"
	"github.com/angelmondragon/ledger-core/pkg/pagination"
)

const ReconcileJobName = "balance-reconcile"

type accountLister interface {
	ListActive(ctx context.Context, params pagination.Params) ([]models.Account, string, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, accountID uuid.UUID) (balances.Reconciliation, error)
}

type ReconcileJobParams struct {
	Logger    *logger.Logger
	Accounts  accountLister
	Ledger    reconciler
	BatchSize int
}

// reconcileJob compares every active account's cached balance against its
// history. It only reports drift; repairs are an explicit admin action.
type reconcileJob struct {
	logg      *logger.Logger
	accounts  accountLister
	ledger    reconciler
	batchSize int
}

func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account lister required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	return &reconcileJob{
		logg:      params.Logger,
		accounts:  params.Accounts,
		ledger:    params.Ledger,
		batchSize: pagination.NormalizeLimit(params.BatchSize),
	}, nil
}

func (j *reconcileJob) Name() string { return ReconcileJobName }

func (j *reconcileJob) Run(ctx context.Context) error {
	var (
		errs    error
		checked int
		drifted []string
		cursor  string
	)
	for {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		page, next, err := j.accounts.ListActive(ctx, pagination.Params{Limit: j.batchSize, Cursor: cursor})
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list accounts: %w", err))
		}
		for _, acct := range page {
			rec, err := j.ledger.Reconcile(ctx, acct.ID)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", acct.ID, err))
				continue
			}
			checked++
			if rec.Mismatch {
				drifted = append(drifted, acct.ID.String())
				j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
					"account_id": acct.ID.String(),
					"drift":      money.Format(rec.Drift()),
				}), "reconcile.account.drift")
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked": checked,
		"drifted": len(drifted),
	}), "reconcile.sweep.complete")

	if len(drifted) > 0 {
		errs = multierr.Append(errs, pkgerrors.Newf(pkgerrors.CodeInvariant, "%d accounts drifted", len(drifted)).
			WithDetails(map[string]any{"account_ids": drifted}))
	}
	return errs
}
