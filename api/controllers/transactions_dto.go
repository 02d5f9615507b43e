package controllers

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledger-core/api/validators"
	"github.com/angelmondragon/ledger-core/internal/balances"
	"github.com/angelmondragon/ledger-core/internal/ledger"
	"github.com/angelmondragon/ledger-core/internal/search"
	"github.com/angelmondragon/ledger-core/internal/transactions"
	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/money"
	"github.com/angelmondragon/ledger-core/pkg/types"
)

type createTransactionRequest struct {
	Date          string   `json:"date" validate:"required,datetime=2006-01-02"`
	ValueDate     *string  `json:"value_date" validate:"omitempty,datetime=2006-01-02"`
	Amount        string   `json:"amount" validate:"required"`
	Currency      string   `json:"currency" validate:"omitempty,len=3"`
	Description   string   `json:"description" validate:"required,max=500"`
	Merchant      *string  `json:"merchant" validate:"omitempty,max=100"`
	Type          string   `json:"type" validate:"required"`
	Category      *string  `json:"category" validate:"omitempty,max=100"`
	Notes         *string  `json:"notes"`
	Tags          []string `json:"tags"`
	ImportBatchID *string  `json:"import_batch_id" validate:"omitempty,uuid"`
}

func (r createTransactionRequest) toInput() (ledger.CreateInput, error) {
	date, err := parseDate("date", r.Date)
	if err != nil {
		return ledger.CreateInput{}, err
	}
	valueDate, err := parseOptionalDate("value_date", r.ValueDate)
	if err != nil {
		return ledger.CreateInput{}, err
	}
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return ledger.CreateInput{}, err
	}
	txnType, err := parseType(r.Type)
	if err != nil {
		return ledger.CreateInput{}, err
	}

	input := ledger.CreateInput{
		Date:        date,
		ValueDate:   valueDate,
		Amount:      amount,
		Currency:    r.Currency,
		Description: r.Description,
		Merchant:    r.Merchant,
		Type:        txnType,
		Category:    r.Category,
		Notes:       r.Notes,
		Tags:        r.Tags,
	}
	if r.ImportBatchID != nil {
		batchID, err := uuid.Parse(*r.ImportBatchID)
		if err != nil {
			return ledger.CreateInput{}, fieldError("import_batch_id", "must be a uuid")
		}
		input.ImportBatchID = &batchID
	}
	return input, nil
}

// updateTransactionRequest uses pointers so absent fields stay untouched.
// Nullable fields also accept null, which clears them.
type updateTransactionRequest struct {
	AccountID   *string                `json:"account_id"`
	Currency    *string                `json:"currency"`
	Date        *string                `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ValueDate   types.Nullable[string] `json:"value_date"`
	Amount      *string                `json:"amount"`
	Description *string                `json:"description"`
	Merchant    types.Nullable[string] `json:"merchant"`
	Type        *string                `json:"type"`
	Category    types.Nullable[string] `json:"category"`
	Notes       types.Nullable[string] `json:"notes"`
	Tags        *[]string              `json:"tags"`
}

func (r updateTransactionRequest) toPatch() (transactions.Patch, error) {
	patch := transactions.Patch{
		Currency:       r.Currency,
		ClearValueDate: r.ValueDate.IsNull(),
		Description:    r.Description,
		Merchant:       clearable(r.Merchant),
		Category:       clearable(r.Category),
		Notes:          clearable(r.Notes),
		Tags:           r.Tags,
	}
	if r.AccountID != nil {
		id, err := uuid.Parse(*r.AccountID)
		if err != nil {
			return transactions.Patch{}, fieldError("account_id", "must be a uuid")
		}
		patch.AccountID = &id
	}
	if r.Date != nil {
		date, err := parseDate("date", *r.Date)
		if err != nil {
			return transactions.Patch{}, err
		}
		patch.Date = &date
	}
	valueDate, err := parseOptionalDate("value_date", r.ValueDate.Value)
	if err != nil {
		return transactions.Patch{}, err
	}
	patch.ValueDate = valueDate
	if r.Amount != nil {
		amount, err := parseAmount("amount", *r.Amount)
		if err != nil {
			return transactions.Patch{}, err
		}
		patch.Amount = &amount
	}
	if r.Type != nil {
		txnType, err := parseType(*r.Type)
		if err != nil {
			return transactions.Patch{}, err
		}
		patch.Type = &txnType
	}
	return patch, nil
}

// clearable maps null to an empty string, which the store writes as NULL.
func clearable(v types.Nullable[string]) *string {
	if !v.Set {
		return nil
	}
	if v.Value == nil {
		empty := ""
		return &empty
	}
	return v.Value
}

type splitPartRequest struct {
	Amount      string   `json:"amount" validate:"required"`
	Description string   `json:"description" validate:"omitempty,max=500"`
	Category    *string  `json:"category" validate:"omitempty,max=100"`
	Notes       *string  `json:"notes"`
	Tags        []string `json:"tags"`
}

type splitTransactionRequest struct {
	Parts []splitPartRequest `json:"parts" validate:"required,dive"`
}

func (r splitTransactionRequest) toParts() ([]ledger.SplitPart, error) {
	parts := make([]ledger.SplitPart, 0, len(r.Parts))
	for _, part := range r.Parts {
		amount, err := parseAmount("parts.amount", part.Amount)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ledger.SplitPart{
			Amount:      amount,
			Description: part.Description,
			Category:    part.Category,
			Notes:       part.Notes,
			Tags:        part.Tags,
		})
	}
	return parts, nil
}

type transactionResponse struct {
	ID                  uuid.UUID  `json:"id"`
	AccountID           uuid.UUID  `json:"account_id"`
	ParentTransactionID *uuid.UUID `json:"parent_transaction_id,omitempty"`
	Date                string     `json:"date"`
	ValueDate           *string    `json:"value_date,omitempty"`
	Amount              string     `json:"amount"`
	Currency            string     `json:"currency"`
	Description         string     `json:"description"`
	Merchant            *string    `json:"merchant,omitempty"`
	Type                string     `json:"type"`
	Category            *string    `json:"category,omitempty"`
	Notes               *string    `json:"notes,omitempty"`
	Tags                []string   `json:"tags"`
	CreatedBy           uuid.UUID  `json:"created_by"`
	ImportBatchID       *uuid.UUID `json:"import_batch_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func newTransactionResponse(txn *models.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                  txn.ID,
		AccountID:           txn.AccountID,
		ParentTransactionID: txn.ParentTransactionID,
		Date:                txn.Date.Format(validators.DateLayout),
		Amount:              money.Format(txn.Amount),
		Currency:            txn.Currency.String(),
		Description:         txn.Description,
		Merchant:            txn.Merchant,
		Type:                txn.Type.String(),
		Category:            txn.Category,
		Notes:               txn.Notes,
		Tags:                txn.Tags,
		CreatedBy:           txn.CreatedBy,
		ImportBatchID:       txn.ImportBatchID,
		CreatedAt:           txn.CreatedAt,
		UpdatedAt:           txn.UpdatedAt,
	}
	if txn.ValueDate != nil {
		vd := txn.ValueDate.Format(validators.DateLayout)
		resp.ValueDate = &vd
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	return resp
}

func newTransactionResponses(txns []models.Transaction) []transactionResponse {
	out := make([]transactionResponse, len(txns))
	for i := range txns {
		out[i] = newTransactionResponse(&txns[i])
	}
	return out
}

type searchResponse struct {
	Items  []transactionResponse `json:"items"`
	Total  int64                 `json:"total"`
	Offset int                   `json:"offset"`
	Limit  int                   `json:"limit"`
}

func newSearchResponse(result search.Result) searchResponse {
	return searchResponse{
		Items:  newTransactionResponses(result.Items),
		Total:  result.Total,
		Offset: result.Offset,
		Limit:  result.Limit,
	}
}

type batchDeletionResponse struct {
	BatchID    uuid.UUID   `json:"import_batch_id"`
	DeletedIDs []uuid.UUID `json:"deleted_ids"`
	Delta      string      `json:"delta"`
	Balance    string      `json:"current_balance"`
}

type reconciliationResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Opening   string    `json:"opening_balance"`
	Cached    string    `json:"cached_balance"`
	Computed  string    `json:"computed_balance"`
	Drift     string    `json:"drift"`
	Mismatch  bool      `json:"mismatch"`
	Repaired  bool      `json:"repaired"`
}

func newReconciliationResponse(rec balances.Reconciliation) reconciliationResponse {
	return reconciliationResponse{
		AccountID: rec.AccountID,
		Opening:   money.Format(rec.Opening),
		Cached:    money.Format(rec.Cached),
		Computed:  money.Format(rec.Computed),
		Drift:     money.Format(rec.Drift()),
		Mismatch:  rec.Mismatch,
		Repaired:  rec.Repaired,
	}
}

func fieldError(field, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, field+" "+message).
		WithDetails(map[string]any{"field": field})
}

func parseDate(field, raw string) (time.Time, error) {
	value, err := time.Parse(validators.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fieldError(field, "must be a YYYY-MM-DD date")
	}
	return value, nil
}

func parseOptionalDate(field string, raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := parseDate(field, *raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	amount, err := money.Parse(raw)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, field+" must be a decimal with at most 2 fractional digits").
			WithDetails(map[string]any{"field": field})
	}
	return amount, nil
}

func parseType(raw string) (enums.TransactionType, error) {
	txnType, err := enums.ParseTransactionType(raw)
	if err != nil {
		return "", fieldError("type", "is invalid")
	}
	return txnType, nil
}
