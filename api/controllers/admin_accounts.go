package controllers

import (
	"net/http"

	"github.com/angelmondragon/ledger-core/api/middleware"
	"github.com/angelmondragon/ledger-core/api/responses"
	"github.com/angelmondragon/ledger-core/api/validators"
	"github.com/angelmondragon/ledger-core/internal/ledger"
	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
	"github.com/angelmondragon/ledger-core/pkg/logger"
)

// AdminReconcileAccount reports drift between the cached and computed balance.
// A mismatch is reported in the body rather than as an error response.
func AdminReconcileAccount(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
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

		rec, err := svc.Reconcile(r.Context(), accountID, middleware.ActorFromContext(r.Context()))
		if err != nil && !(rec.Mismatch && pkgerrors.IsCode(err, pkgerrors.CodeInvariant)) {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReconciliationResponse(rec))
	}
}

// AdminRepairAccount rewrites the cached balance from history.
func AdminRepairAccount(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
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

		rec, err := svc.Repair(r.Context(), accountID, middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReconciliationResponse(rec))
	}
}
