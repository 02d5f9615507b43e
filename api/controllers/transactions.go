package controllers

import (
	"math"
	"net/http"
	"strings"

	"github.com/angelmondragon/ledger-core/api/middleware"
	"github.com/angelmondragon/ledger-core/api/responses"
	"github.com/angelmondragon/ledger-core/api/validators"
	"github.com/angelmondragon/ledger-core/internal/ledger"
	"github.com/angelmondragon/ledger-core/internal/search"
	"github.com/angelmondragon/ledger-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/money"
)

const maxTextQuery = 200

// CreateTransaction records a transaction on the account in the path.
func CreateTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Create(r.Context(), accountID, input, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(txn))
	}
}

// SearchTransactions lists an account's transactions matching the query string.
func SearchTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := parseSearchFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Search(r.Context(), accountID, filters, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSearchResponse(result))
	}
}

func parseSearchFilters(r *http.Request) (search.Filters, error) {
	var (
		f   search.Filters
		err error
	)
	if f.DateFrom, err = validators.ParseQueryDate(r, "date_from"); err != nil {
		return f, err
	}
	if f.DateTo, err = validators.ParseQueryDate(r, "date_to"); err != nil {
		return f, err
	}
	if f.AmountMin, err = validators.ParseQueryAmount(r, "amount_min"); err != nil {
		return f, err
	}
	if f.AmountMax, err = validators.ParseQueryAmount(r, "amount_max"); err != nil {
		return f, err
	}
	if f.Offset, err = validators.ParseQueryInt(r, "offset", 0, 0, math.MaxInt32); err != nil {
		return f, err
	}
	if f.Limit, err = validators.ParseQueryInt(r, "limit", 0, 0, 1000); err != nil {
		return f, err
	}

	q := r.URL.Query()
	f.DescriptionLike = validators.SearchText(q.Get("description"), maxTextQuery)
	f.MerchantLike = validators.SearchText(q.Get("merchant"), maxTextQuery)
	f.Tags = validators.ParseQueryList(r, "tags")
	f.SortBy = strings.TrimSpace(q.Get("sort_by"))
	f.SortOrder = strings.TrimSpace(q.Get("sort_order"))
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		txnType, err := enums.ParseTransactionType(raw)
		if err != nil {
			return f, fieldError("type", "is invalid")
		}
		f.Type = &txnType
	}
	return f, nil
}

func GetTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Get(r.Context(), id, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

func UpdateTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patch, err := req.toPatch()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.Update(r.Context(), id, patch, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

func DeleteTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		deleted, err := svc.Delete(r.Context(), id, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deleted_ids": deleted})
	}
}

func SplitTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req splitTransactionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		parts, err := req.toParts()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		children, err := svc.Split(r.Context(), id, parts, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"children": newTransactionResponses(children)})
	}
}

func JoinTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		removed, err := svc.Join(r.Context(), id, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"removed_ids": removed})
	}
}

// DeleteImportBatch removes everything one import run created on the account.
func DeleteImportBatch(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batchID, err := validators.ParseUUIDParam(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.DeleteImportBatch(r.Context(), accountID, batchID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, batchDeletionResponse{
			BatchID:    result.BatchID,
			DeletedIDs: result.DeletedIDs,
			Delta:      money.Format(result.Delta),
			Balance:    money.Format(result.Balance),
		})
	}
}
