package sigengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"signal-systemv1/internal/algo"
	"signal-systemv1/internal/catalog"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/strategy"
)

// startAdminAPI launches the HTTP server for variant and strategy
// administration.
func (svc *Service) startAdminAPI(ctx context.Context) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/variants", svc.handleVariants)
		mux.HandleFunc("/variants/", svc.handleVariantByID)
		mux.HandleFunc("/strategies", svc.handleStrategies)
		mux.HandleFunc("/strategies/", svc.handleStrategyByID)
		mux.HandleFunc("/snapshot", svc.handleSnapshot)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "ok")
		})

		srv := &http.Server{Addr: svc.cfg.HTTPAddr, Handler: svc.withTrace(mux)}
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()

		svc.logger.Info("admin API listening", "addr", svc.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			svc.logger.Error("admin API server error", "error", err)
		}
	}()
}

// withTrace tags each admin request context with a trace ID so downstream
// log lines for the same request correlate, and logs the request once served.
func (svc *Service) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithTraceID(r.Context(), logger.GenerateTraceID("admin", time.Now()))
		next.ServeHTTP(w, r.WithContext(ctx))
		attrs := append([]any{"method", r.Method, "path", r.URL.Path}, logger.LogWithTrace(ctx)...)
		svc.logger.Debug("admin request served", attrs...)
	})
}

// handleVariants handles POST (create) and GET (list) on /variants.
func (svc *Service) handleVariants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var v model.Variant
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		id, err := svc.catalog.Create(r.Context(), &v)
		if err != nil {
			writeCatalogError(w, err)
			return
		}
		svc.prom.ActiveVariants.Set(float64(svc.catalog.Len()))
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})

	case http.MethodGet:
		symbol := r.URL.Query().Get("symbol")
		var out []model.Variant
		if symbol != "" {
			out = svc.catalog.BySymbol(symbol)
		} else {
			out = svc.catalog.All()
		}
		writeJSON(w, http.StatusOK, out)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVariantByID handles GET and DELETE on /variants/{id}.
func (svc *Service) handleVariantByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/variants/")
	if id == "" {
		http.Error(w, "missing variant id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, ok := svc.catalog.Get(id)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, v)

	case http.MethodDelete:
		if err := svc.catalog.Delete(r.Context(), id); err != nil {
			writeCatalogError(w, err)
			return
		}
		svc.prom.ActiveVariants.Set(float64(svc.catalog.Len()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStrategies handles POST /strategies to activate a strategy.
func (svc *Service) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var cfg strategy.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if cfg.ID == "" || len(cfg.Symbols) == 0 {
		http.Error(w, "id and symbols are required", http.StatusBadRequest)
		return
	}
	svc.strategies.Activate(cfg, time.Now().UTC())
	svc.prom.ActiveStrategies.Set(float64(svc.strategies.Count()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated", "id": cfg.ID})
}

// handleStrategyByID handles GET /strategies/{id}?symbol= (instance state)
// and DELETE /strategies/{id} (deactivate).
func (svc *Service) handleStrategyByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/strategies/")
	if id == "" {
		http.Error(w, "missing strategy id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		symbol := r.URL.Query().Get("symbol")
		inst, ok := svc.strategies.Instance(id, symbol)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		state, since := inst.State()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"strategy_id": id,
			"symbol":      symbol,
			"state":       state,
			"since":       since.Format(time.RFC3339),
		})

	case http.MethodDelete:
		svc.strategies.Deactivate(id)
		svc.prom.ActiveStrategies.Set(float64(svc.strategies.Count()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "id": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSnapshot handles GET /snapshot?symbol= returning the latest cached
// indicator values for a symbol.
func (svc *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, svc.engine.Snapshot(symbol))
}

func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrValidation), errors.Is(err, algo.ErrUnknownIndicatorType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
