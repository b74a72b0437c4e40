// Command orchestrator is the composition root: it wires configuration,
// telemetry, the state store, the bus, the agent registry, the LLM
// gateway, the planner, the scheduler, the execution supervisor, the
// event fan-out and the audit writer into a single process, then exposes
// the C11 operations over a minimal HTTP surface. Grounded in the
// teacher's core/cmd/example/main.go bootstrap style.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/homelabops/orchestrator/internal/audit"
	"github.com/homelabops/orchestrator/internal/bus"
	"github.com/homelabops/orchestrator/internal/config"
	"github.com/homelabops/orchestrator/internal/fanout"
	"github.com/homelabops/orchestrator/internal/llm"
	"github.com/homelabops/orchestrator/internal/llm/providers/anthropic"
	"github.com/homelabops/orchestrator/internal/llm/providers/bedrock"
	"github.com/homelabops/orchestrator/internal/llm/providers/openai"
	"github.com/homelabops/orchestrator/internal/orchestrator"
	"github.com/homelabops/orchestrator/internal/planner"
	"github.com/homelabops/orchestrator/internal/registry"
	"github.com/homelabops/orchestrator/internal/resilience"
	"github.com/homelabops/orchestrator/internal/scheduler"
	"github.com/homelabops/orchestrator/internal/store"
	"github.com/homelabops/orchestrator/internal/supervisor"
	"github.com/homelabops/orchestrator/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
}

func run() error {
	cfg, err := config.New(os.Getenv("ORCHESTRATOR_CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	db, err := sqlx.Connect("pgx", cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	st, err := store.New(db, logger)
	if err != nil {
		return err
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	b := bus.New(rdb, logger, metrics)

	breakerCfg := cfg.Resilience.BreakerConfig("", func(name string, from, to resilience.State) {
		logger.Info("agent breaker transition", map[string]interface{}{"agent_id": name, "from": from.String(), "to": to.String()})
	})
	reg := registry.New(rdb, "orchestrator", breakerCfg, logger, metrics)

	gateway, err := buildLLMGateway(cfg, rdb, logger)
	if err != nil {
		return err
	}

	catalog := planner.NewCatalog()
	validator, err := planner.NewSchemaValidator()
	if err != nil {
		return err
	}
	pl := planner.New(gateway, catalog, validator, "claude-3-5-sonnet-20241022", logger, metrics)

	aw, err := audit.NewWriter(cfg.Audit.LogPath, logger)
	if err != nil {
		return err
	}
	fo := fanout.NewBroker()

	sup := supervisor.New(st, b, reg, aw, fo, logger, metrics)
	sch := scheduler.New(st, reg, b, sup, fo, logger, metrics)

	orc := orchestrator.New(st, pl, sch, aw, fo, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sch.Start(ctx)
	defer sch.Stop()

	srv := &http.Server{Addr: cfg.HTTP.Address, Handler: newRouter(orc, sup, metrics)}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	logger.Info("orchestrator listening", map[string]interface{}{"address": cfg.HTTP.Address})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLLMGateway(cfg *config.Config, rdb *redis.Client, logger telemetry.ComponentLogger) (*llm.Gateway, error) {
	var providers []llm.Provider
	for _, name := range cfg.LLM.ProviderChain {
		switch name {
		case "anthropic":
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				providers = append(providers, anthropic.New(key, llm.DefaultTimeout))
			}
		case "openai":
			if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				providers = append(providers, openai.New(key, llm.DefaultTimeout))
			}
		case "bedrock":
			awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
			if err == nil {
				providers = append(providers, bedrock.New(bedrockruntime.NewFromConfig(awsCfg), llm.DefaultTimeout))
			}
		}
	}

	quotaCaps := map[string]float64{"anthropic": 1_000_000, "openai": 1_000_000, "bedrock": 1_000_000}
	return llm.NewGateway(providers, logger,
		llm.WithQuotaTracker(llm.NewRedisQuotaTracker(rdb, quotaCaps)),
		llm.WithCache(llm.NewCache(rdb, cfg.LLM.CacheTTL())),
		llm.WithQuotaThreshold(cfg.LLM.QuotaThreshold()),
	)
}

func newRouter(orc *orchestrator.Orchestrator, canceller orchestrator.Canceller, metrics *telemetry.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/requests", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Text string `json:"text"`
			User string `json:"user"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := orc.Submit(req.Context(), body.Text, body.User)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"request_id": id})
	})

	r.Get("/plans/{planID}", func(w http.ResponseWriter, req *http.Request) {
		view, err := orc.GetPlan(req.Context(), chi.URLParam(req, "planID"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, view)
	})

	r.Post("/plans/{planID}/approve", func(w http.ResponseWriter, req *http.Request) {
		approver := req.URL.Query().Get("approver")
		started, err := orc.Approve(req.Context(), chi.URLParam(req, "planID"), approver)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"dispatch_started": started})
	})

	r.Post("/plans/{planID}/reject", func(w http.ResponseWriter, req *http.Request) {
		approver := req.URL.Query().Get("approver")
		if err := orc.Reject(req.Context(), chi.URLParam(req, "planID"), approver); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/plans/{planID}/modify", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			NewRequestText string `json:"new_request_text"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		newID, err := orc.Modify(req.Context(), chi.URLParam(req, "planID"), body.NewRequestText)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"new_plan_id": newID})
	})

	r.Post("/cancel/{id}", func(w http.ResponseWriter, req *http.Request) {
		if err := orc.Cancel(req.Context(), canceller, chi.URLParam(req, "id")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
		page := store.Pagination{Limit: 50}
		tasks, err := orc.QueryAudit(req.Context(), store.TaskFilter{}, page)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, tasks)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
