package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/ledger-core/api/controllers"
	"github.com/angelmondragon/ledger-core/api/middleware"
	"github.com/angelmondragon/ledger-core/internal/ledger"
	"github.com/angelmondragon/ledger-core/pkg/config"
	"github.com/angelmondragon/ledger-core/pkg/db"
	"github.com/angelmondragon/ledger-core/pkg/logger"
	"github.com/angelmondragon/ledger-core/pkg/redis"
)

// NewRouter wires the HTTP surface. redisClient may be nil, which disables
// idempotency replay. metricsHandler may be nil, which hides /metrics.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	ledgerService ledger.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var idempotencyStore redis.IdempotencyStore
	deps := map[string]controllers.Pinger{"db": dbP}
	if redisClient != nil {
		idempotencyStore = redisClient
		deps["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/accounts/{accountId}", func(r chi.Router) {
			r.Post("/transactions", controllers.CreateTransaction(ledgerService, logg))
			r.Get("/transactions", controllers.SearchTransactions(ledgerService, logg))
			r.Delete("/import-batches/{batchId}", controllers.DeleteImportBatch(ledgerService, logg))
		})

		r.Route("/v1/transactions/{transactionId}", func(r chi.Router) {
			r.Get("/", controllers.GetTransaction(ledgerService, logg))
			r.Patch("/", controllers.UpdateTransaction(ledgerService, logg))
			r.Delete("/", controllers.DeleteTransaction(ledgerService, logg))
			r.Post("/split", controllers.SplitTransaction(ledgerService, logg))
			r.Post("/join", controllers.JoinTransaction(ledgerService, logg))
		})

		r.Route("/admin/v1/accounts/{accountId}", func(r chi.Router) {
			r.Get("/reconcile", controllers.AdminReconcileAccount(ledgerService, logg))
			r.Post("/repair", controllers.AdminRepairAccount(ledgerService, logg))
		})
	})

	return r
}
