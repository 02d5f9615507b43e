package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledger-core/internal/audit"
	"github.com/angelmondragon/ledger-core/internal/balances"
	"github.com/angelmondragon/ledger-core/internal/permissions"
	"github.com/angelmondragon/ledger-core/internal/search"
	"github.com/angelmondragon/ledger-core/internal/transactions"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/metrics"
	"github.com/angelmondragon/ledger-core/pkg/money"
)

// Service is the only entry point that mutates transactions or balances.
// Every mutation resolves permission, then runs the store write and the
// balance delta as one unit under the account lock, then audits.
type Service interface {
	Create(ctx context.Context, accountID uuid.UUID, input CreateInput, actor uuid.UUID) (*models.Transaction, error)
	Get(ctx context.Context, id, actor uuid.UUID) (*models.Transaction, error)
	Update(ctx context.Context, id uuid.UUID, patch transactions.Patch, actor uuid.UUID) (*models.Transaction, error)
	Delete(ctx context.Context, id, actor uuid.UUID) ([]uuid.UUID, error)
	Split(ctx context.Context, parentID uuid.UUID, parts []SplitPart, actor uuid.UUID) ([]models.Transaction, error)
	Join(ctx context.Context, parentID, actor uuid.UUID) ([]uuid.UUID, error)
	Search(ctx context.Context, accountID uuid.UUID, filters search.Filters, actor uuid.UUID) (search.Result, error)
	Reconcile(ctx context.Context, accountID, actor uuid.UUID) (balances.Reconciliation, error)
	Repair(ctx context.Context, accountID, actor uuid.UUID) (balances.Reconciliation, error)
	DeleteImportBatch(ctx context.Context, accountID, batchID, actor uuid.UUID) (BatchDeletion, error)
}

type ServiceParams struct {
	Transactions transactions.Repository
	Ledger       balances.Ledger
	Permissions  permissions.Resolver
	Search       search.Engine
	Audit        audit.Recorder
	Metrics      *metrics.LedgerMetrics
	Logger       *logger.Logger
}

type service struct {
	txns    transactions.Repository
	ledger  balances.Ledger
	perms   permissions.Resolver
	search  search.Engine
	audit   audit.Recorder
	metrics *metrics.LedgerMetrics
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("balance ledger required")
	}
	if params.Permissions == nil {
		return nil, fmt.Errorf("permission resolver required")
	}
	if params.Search == nil {
		return nil, fmt.Errorf("search engine required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		txns:    params.Transactions,
		ledger:  params.Ledger,
		perms:   params.Permissions,
		search:  params.Search,
		audit:   params.Audit,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, accountID uuid.UUID, input CreateInput, actor uuid.UUID) (created *models.Transaction, err error) {
	ctx, done := s.begin(ctx, "create", actor, accountID)
	defer func() { err = done(err) }()

	if err := s.require(ctx, enums.AuditActionCreate, actor, accountID, nil, enums.PermissionTierEditor); err != nil {
		return nil, err
	}
	input.normalize()
	if err := input.validate(); err != nil {
		return nil, err
	}

	err = s.ledger.WithAccountLock(ctx, accountID, func(tx *gorm.DB, _ *models.Account) error {
		txn := &models.Transaction{
			AccountID:     accountID,
			Date:          input.Date,
			ValueDate:     input.ValueDate,
			Amount:        input.Amount,
			Currency:      enums.Currency(input.Currency),
			Description:   input.Description,
			Merchant:      input.Merchant,
			Type:          input.Type,
			Category:      input.Category,
			Notes:         input.Notes,
			CreatedBy:     actor,
			ImportBatchID: input.ImportBatchID,
			Tags:          input.Tags,
		}
		if err := s.txns.WithTx(tx).Create(ctx, txn); err != nil {
			return err
		}
		if _, err := s.ledger.ApplyDelta(ctx, tx, accountID, txn.Amount); err != nil {
			return err
		}
		created = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionCreate,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: []uuid.UUID{created.ID},
		After:     snapshot(created),
	})
	return created, nil
}

func (s *service) Get(ctx context.Context, id, actor uuid.UUID) (txn *models.Transaction, err error) {
	ctx, done := s.begin(ctx, "get", actor, uuid.Nil)
	defer func() { err = done(err) }()

	txn, err = s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.perms.Require(ctx, actor, txn.AccountID, enums.PermissionTierViewer); err != nil {
		return nil, err
	}
	return txn, nil
}

// Update is open to the transaction's creator with editor access, and to owners.
func (s *service) Update(ctx context.Context, id uuid.UUID, patch transactions.Patch, actor uuid.UUID) (updated *models.Transaction, err error) {
	ctx, done := s.begin(ctx, "update", actor, uuid.Nil)
	defer func() { err = done(err) }()

	current, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	accountID := current.AccountID
	ctx = s.logg.WithAccountID(ctx, accountID.String())

	tier, err := s.perms.Resolve(ctx, actor, accountID)
	if err != nil {
		return nil, s.denied(ctx, enums.AuditActionUpdate, actor, accountID, []uuid.UUID{id}, err)
	}
	if patch.AccountID != nil && *patch.AccountID != accountID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account_id is immutable").
			WithDetails(map[string]any{"field": "account_id"})
	}
	if patch.Currency != nil && !sameCurrency(*patch.Currency, current.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency is immutable").
			WithDetails(map[string]any{"field": "currency"})
	}
	if !canUpdate(tier, actor, current) {
		denial := pkgerrors.New(pkgerrors.CodeForbidden, "only the creator or an owner may update this transaction").
			WithDetails(map[string]any{"tier": tier.String()})
		return nil, s.denied(ctx, enums.AuditActionUpdate, actor, accountID, []uuid.UUID{id}, denial)
	}
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}

	var before *models.Transaction
	err = s.ledger.WithAccountLock(ctx, accountID, func(tx *gorm.DB, _ *models.Account) error {
		store := s.txns.WithTx(tx)
		prev, err := store.GetByID(ctx, id)
		if err != nil {
			return err
		}

		amountChanges := patch.Amount != nil && !patch.Amount.Equal(prev.Amount)
		if amountChanges {
			if prev.IsSplitChild() {
				return pkgerrors.New(pkgerrors.CodeValidation, "split child amounts are fixed; join and split again to change them").
					WithDetails(map[string]any{"field": "amount"})
			}
			split, err := store.HasChildren(ctx, id)
			if err != nil {
				return err
			}
			if split {
				return pkgerrors.New(pkgerrors.CodeValidation, "cannot change the amount of a split transaction; join it first").
					WithDetails(map[string]any{"field": "amount"})
			}
		}

		next, err := store.Update(ctx, id, patch)
		if err != nil {
			return err
		}
		if delta := next.Amount.Sub(prev.Amount); !prev.IsSplitChild() && !delta.IsZero() {
			if _, err := s.ledger.ApplyDelta(ctx, tx, accountID, delta); err != nil {
				return err
			}
		}
		before, updated = prev, next
		return nil
	})
	if err != nil {
		return nil, err
	}

	changedBefore, changedAfter := diff(snapshot(before), snapshot(updated))
	if len(changedAfter) > 0 {
		s.audit.Record(ctx, audit.Event{
			Action:    enums.AuditActionUpdate,
			Actor:     actor,
			AccountID: accountID,
			EntityIDs: []uuid.UUID{id},
			Before:    changedBefore,
			After:     changedAfter,
		})
	}
	return updated, nil
}

func canUpdate(tier enums.PermissionTier, actor uuid.UUID, txn *models.Transaction) bool {
	if tier.AtLeast(enums.PermissionTierOwner) {
		return true
	}
	return tier.AtLeast(enums.PermissionTierEditor) && txn.CreatedBy == actor
}

// Delete soft-deletes a top-level transaction and its split children and
// removes its amount from the balance.
func (s *service) Delete(ctx context.Context, id, actor uuid.UUID) (deleted []uuid.UUID, err error) {
	ctx, done := s.begin(ctx, "delete", actor, uuid.Nil)
	defer func() { err = done(err) }()

	current, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	accountID := current.AccountID
	ctx = s.logg.WithAccountID(ctx, accountID.String())

	if err := s.require(ctx, enums.AuditActionDelete, actor, accountID, []uuid.UUID{id}, enums.PermissionTierOwner); err != nil {
		return nil, err
	}

	var before *models.Transaction
	err = s.ledger.WithAccountLock(ctx, accountID, func(tx *gorm.DB, _ *models.Account) error {
		store := s.txns.WithTx(tx)
		prev, err := store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		ids, err := store.SoftDelete(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.ledger.ApplyDelta(ctx, tx, accountID, prev.Amount.Neg()); err != nil {
			return err
		}
		before, deleted = prev, ids
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionDelete,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: deleted,
		Before:    snapshot(before),
	})
	return deleted, nil
}

// Split breaks a top-level transaction into children whose amounts sum to the
// parent's exactly. The parent keeps carrying the balance effect.
func (s *service) Split(ctx context.Context, parentID uuid.UUID, parts []SplitPart, actor uuid.UUID) (children []models.Transaction, err error) {
	ctx, done := s.begin(ctx, "split", actor, uuid.Nil)
	defer func() { err = done(err) }()

	parent, err := s.txns.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	accountID := parent.AccountID
	ctx = s.logg.WithAccountID(ctx, accountID.String())

	if err := s.require(ctx, enums.AuditActionSplit, actor, accountID, []uuid.UUID{parentID}, enums.PermissionTierEditor); err != nil {
		return nil, err
	}
	if err := validateParts(parts); err != nil {
		return nil, err
	}
	if err := checkSplitSum(parts, parent.Amount); err != nil {
		return nil, err
	}

	err = s.ledger.WithAccountLock(ctx, accountID, func(tx *gorm.DB, _ *models.Account) error {
		store := s.txns.WithTx(tx)
		current, err := store.GetByID(ctx, parentID)
		if err != nil {
			return err
		}
		if current.IsSplitChild() {
			return pkgerrors.New(pkgerrors.CodeValidation, "cannot split a split child")
		}
		split, err := store.HasChildren(ctx, parentID)
		if err != nil {
			return err
		}
		if split {
			return pkgerrors.New(pkgerrors.CodeValidation, "transaction is already split; join it first")
		}
		if err := checkSplitSum(parts, current.Amount); err != nil {
			return err
		}

		out := make([]models.Transaction, 0, len(parts))
		for _, part := range parts {
			child := childOf(current, part, actor)
			if err := store.Create(ctx, child); err != nil {
				return err
			}
			out = append(out, *child)
		}
		children = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	childIDs := make([]uuid.UUID, len(children))
	childSnapshots := make([]map[string]any, len(children))
	for i := range children {
		childIDs[i] = children[i].ID
		childSnapshots[i] = snapshot(&children[i])
	}
	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionSplit,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: entityIDs(parentID, childIDs),
		After:     map[string]any{"children": childSnapshots},
	})
	return children, nil
}

func checkSplitSum(parts []SplitPart, expected decimal.Decimal) error {
	amounts := make([]decimal.Decimal, len(parts))
	for i, part := range parts {
		amounts[i] = part.Amount
	}
	total, err := money.Sum(amounts...)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "split amounts out of range")
	}
	if !total.Equal(expected) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "split amounts sum to %s, expected %s", money.Format(total), money.Format(expected)).
			WithDetails(map[string]any{
				"field":    "parts",
				"sum":      money.Format(total),
				"expected": money.Format(expected),
			})
	}
	return nil
}

func childOf(parent *models.Transaction, part SplitPart, actor uuid.UUID) *models.Transaction {
	description := part.Description
	if description == "" {
		description = parent.Description
	}
	parentID := parent.ID
	return &models.Transaction{
		AccountID:           parent.AccountID,
		ParentTransactionID: &parentID,
		Date:                parent.Date,
		ValueDate:           parent.ValueDate,
		Amount:              part.Amount,
		Currency:            parent.Currency,
		Description:         description,
		Merchant:            parent.Merchant,
		Type:                parent.Type,
		Category:            part.Category,
		Notes:               part.Notes,
		CreatedBy:           actor,
		Tags:                part.Tags,
	}
}

// Join removes every split child of parentID. The balance does not move.
func (s *service) Join(ctx context.Context, parentID, actor uuid.UUID) (removed []uuid.UUID, err error) {
	ctx, done := s.begin(ctx, "join", actor, uuid.Nil)
	defer func() { err = done(err) }()

	parent, err := s.txns.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	accountID := parent.AccountID
	ctx = s.logg.WithAccountID(ctx, accountID.String())

	if err := s.require(ctx, enums.AuditActionJoin, actor, accountID, []uuid.UUID{parentID}, enums.PermissionTierEditor); err != nil {
		return nil, err
	}
	if parent.IsSplitChild() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "join the split parent, not a child")
	}

	err = s.ledger.WithAccountLock(ctx, accountID, func(tx *gorm.DB, _ *models.Account) error {
		store := s.txns.WithTx(tx)
		if _, err := store.GetByID(ctx, parentID); err != nil {
			return err
		}
		ids, err := store.SoftDeleteChildren(ctx, parentID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "transaction has no split children to join")
		}
		removed = ids
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionJoin,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: entityIDs(parentID, removed),
	})
	return removed, nil
}

func (s *service) Search(ctx context.Context, accountID uuid.UUID, filters search.Filters, actor uuid.UUID) (result search.Result, err error) {
	ctx, done := s.begin(ctx, "search", actor, accountID)
	defer func() { err = done(err) }()

	if err := s.perms.Require(ctx, actor, accountID, enums.PermissionTierViewer); err != nil {
		return search.Result{}, err
	}
	return s.search.Search(ctx, accountID, filters)
}

// Reconcile compares the cached balance with history. A mismatch is returned
// alongside an invariant error and is never corrected here.
func (s *service) Reconcile(ctx context.Context, accountID, actor uuid.UUID) (rec balances.Reconciliation, err error) {
	ctx, done := s.begin(ctx, "reconcile", actor, accountID)
	defer func() { err = done(err) }()

	if err := s.requireAdmin(ctx, enums.AuditActionReconcile, actor, accountID); err != nil {
		return balances.Reconciliation{}, err
	}
	rec, err = s.ledger.Reconcile(ctx, accountID)
	if err != nil {
		return balances.Reconciliation{}, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionReconcile,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: []uuid.UUID{accountID},
		After:     reconciliationView(rec),
	})
	if rec.Mismatch {
		msg := fmt.Sprintf("cached balance %s differs from computed %s", money.Format(rec.Cached), money.Format(rec.Computed))
		return rec, pkgerrors.Wrap(pkgerrors.CodeInvariant, balances.ErrDrift, msg).
			WithDetails(reconciliationView(rec))
	}
	return rec, nil
}

func (s *service) Repair(ctx context.Context, accountID, actor uuid.UUID) (rec balances.Reconciliation, err error) {
	ctx, done := s.begin(ctx, "repair", actor, accountID)
	defer func() { err = done(err) }()

	if err := s.requireAdmin(ctx, enums.AuditActionRepair, actor, accountID); err != nil {
		return balances.Reconciliation{}, err
	}
	rec, err = s.ledger.Repair(ctx, accountID)
	if err != nil {
		return balances.Reconciliation{}, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionRepair,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: []uuid.UUID{accountID},
		Before:    map[string]any{"current_balance": money.Format(rec.Cached)},
		After:     map[string]any{"current_balance": money.Format(rec.Computed), "repaired": rec.Repaired},
	})
	return rec, nil
}

func reconciliationView(rec balances.Reconciliation) map[string]any {
	return map[string]any{
		"account_id":       rec.AccountID.String(),
		"opening_balance":  money.Format(rec.Opening),
		"cached_balance":   money.Format(rec.Cached),
		"computed_balance": money.Format(rec.Computed),
		"drift":            money.Format(rec.Drift()),
		"mismatch":         rec.Mismatch,
	}
}

// DeleteImportBatch rolls back everything one import run created on an account.
func (s *service) DeleteImportBatch(ctx context.Context, accountID, batchID, actor uuid.UUID) (result BatchDeletion, err error) {
	ctx, done := s.begin(ctx, "delete_import_batch", actor, accountID)
	defer func() { err = done(err) }()

	if err := s.require(ctx, enums.AuditActionDelete, actor, accountID, nil, enums.PermissionTierOwner); err != nil {
		return BatchDeletion{}, err
	}

	err = s.ledger.WithAccountLock(ctx, accountID, func(tx *gorm.DB, _ *models.Account) error {
		store := s.txns.WithTx(tx)
		rows, err := store.ListActiveByImportBatch(ctx, accountID, batchID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "import batch not found")
		}

		deleted := make([]uuid.UUID, 0, len(rows))
		amounts := make([]decimal.Decimal, 0, len(rows))
		for _, row := range rows {
			ids, err := store.SoftDelete(ctx, row.ID)
			if err != nil {
				return err
			}
			deleted = append(deleted, ids...)
			amounts = append(amounts, row.Amount)
		}
		total, err := money.Sum(amounts...)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "import batch total out of range")
		}
		balance, err := s.ledger.ApplyDelta(ctx, tx, accountID, total.Neg())
		if err != nil {
			return err
		}
		result = BatchDeletion{BatchID: batchID, DeletedIDs: deleted, Delta: total.Neg(), Balance: balance}
		return nil
	})
	if err != nil {
		return BatchDeletion{}, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionDelete,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: result.DeletedIDs,
		After: map[string]any{
			"import_batch_id": batchID.String(),
			"delta":           money.Format(result.Delta),
		},
	})
	return result, nil
}

// begin tags ctx for logs and metrics and returns the matching finisher.
func (s *service) begin(ctx context.Context, op string, actor, accountID uuid.UUID) (context.Context, func(error) error) {
	start := time.Now()
	ctx = metrics.WithOp(ctx, op)
	ctx = s.logg.WithOperation(ctx, op)
	ctx = s.logg.WithUserID(ctx, actor.String())
	if accountID != uuid.Nil {
		ctx = s.logg.WithAccountID(ctx, accountID.String())
	}
	return ctx, func(err error) error {
		err = s.classify(ctx, err)
		s.metrics.ObserveOperation(op, outcome(err), time.Since(start))
		return err
	}
}

// classify passes typed errors through and turns anything else into an
// internal error after logging it with its full chain.
func (s *service) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		dump := pkgerrors.Dump(err)
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"error_chain": dump.Chain,
			"pg_code":     dump.PGCode,
		}), "ledger.operation.failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ledger operation failed")
	}
	// drift was already reported by the ledger
	if typed.Code() == pkgerrors.CodeInvariant && !errors.Is(err, balances.ErrDrift) {
		s.logg.Fatal(ctx, "ledger.invariant.violated", err)
	}
	return err
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodeForbidden, pkgerrors.CodeUnauthorized:
		return metrics.OutcomeDenied
	case pkgerrors.CodeValidation:
		return metrics.OutcomeInvalid
	case pkgerrors.CodeNotFound:
		return metrics.OutcomeNotFound
	case pkgerrors.CodeContention:
		return metrics.OutcomeContention
	case pkgerrors.CodeCanceled:
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}

// require checks the actor's tier and audits a refusal.
func (s *service) require(ctx context.Context, action enums.AuditAction, actor, accountID uuid.UUID, ids []uuid.UUID, min enums.PermissionTier) error {
	if err := s.perms.Require(ctx, actor, accountID, min); err != nil {
		return s.denied(ctx, action, actor, accountID, ids, err)
	}
	return nil
}

func (s *service) requireAdmin(ctx context.Context, action enums.AuditAction, actor, accountID uuid.UUID) error {
	if actor == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "actor required")
	}
	if !s.perms.IsSystemAdmin(actor) {
		return s.denied(ctx, action, actor, accountID, nil, pkgerrors.New(pkgerrors.CodeForbidden, "system administrator access required"))
	}
	return nil
}

// denied records a DENIED event for permission refusals and returns err unchanged.
func (s *service) denied(ctx context.Context, action enums.AuditAction, actor, accountID uuid.UUID, ids []uuid.UUID, err error) error {
	typed := pkgerrors.As(err)
	if typed == nil || actor == uuid.Nil {
		return err
	}
	switch typed.Code() {
	case pkgerrors.CodeForbidden, pkgerrors.CodeNotFound:
	default:
		return err
	}
	s.audit.Record(ctx, audit.Event{
		Action:    enums.AuditActionDenied,
		Actor:     actor,
		AccountID: accountID,
		EntityIDs: ids,
		After:     map[string]any{"attempted": string(action)},
		Reason:    typed.Message(),
	})
	return err
}

func sameCurrency(raw string, current enums.Currency) bool {
	parsed, err := enums.ParseCurrency(raw)
	return err == nil && parsed == current
}
