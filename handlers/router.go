package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// RouterConfig reúne o que o roteador HTTP precisa.
type RouterConfig struct {
	Market         *MarketHandler
	Properties     *PropertyHandler
	Investments    *InvestmentHandler
	Gatherer       prometheus.Gatherer // nil desativa /metrics
	AllowedOrigins []string
}

// NewRouter monta as rotas da API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.URLFormat)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/market", func(r chi.Router) {
		r.Get("/orders", cfg.Market.ListOrders)
		r.Post("/orders", cfg.Market.CreateOrder)
		r.Post("/execute", cfg.Market.ExecuteTrade)
		r.Get("/activity", cfg.Market.RecentActivity)
	})

	r.Route("/properties", func(r chi.Router) {
		r.Get("/", cfg.Properties.ListProperties)
		r.Post("/", cfg.Properties.CreateProperty)
		r.Post("/yield-distribute", cfg.Properties.DistributeYield)
		r.Post("/yield-distribute-all", cfg.Properties.DistributeYieldAll)
		r.Get("/admin/stats", cfg.Properties.AdminStats)
		r.Get("/{address}", cfg.Properties.GetProperty)
		r.Patch("/{address}", cfg.Properties.UpdateProperty)
	})

	r.Route("/investments", func(r chi.Router) {
		r.Get("/user/{address}", cfg.Investments.GetUserInvestments)
		r.Get("/payouts/user/{address}", cfg.Investments.GetUserPayouts)
		r.Post("/record", cfg.Investments.RecordInvestment)
	})

	return r
}
