package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/ordersync/internal/health"
	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/service/ordersync"
	"github.com/vladislavdragonenkov/ordersync/internal/service/scheduler"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

const (
	requestTimeout  = 15 * time.Second
	defaultRunsList = 20
	maxRunsList     = 200
)

// syncTrigger запускает прогоны вне расписания.
type syncTrigger interface {
	Trigger(mode domain.SyncMode, opts ordersync.RunOptions) error
	Next() map[domain.SyncMode]time.Time
}

// adminAPI обслуживает служебные эндпоинты демона.
type adminAPI struct {
	trigger syncTrigger
	runs    domain.RunRepository
	logger  *log.Entry
}

// syncRequest: необязательное тело POST /sync/{mode}.
type syncRequest struct {
	Filters      map[string]string `json:"filters"`
	RangeField   string            `json:"range_field"`
	From         string            `json:"from"`
	To           string            `json:"to"`
	FetchDetails bool              `json:"fetch_details"`
	BatchSize    int               `json:"batch_size"`
}

func (r syncRequest) runOptions() (ordersync.RunOptions, error) {
	filters, err := BuildFilters(r.Filters, r.RangeField, r.From, r.To)
	if err != nil {
		return ordersync.RunOptions{}, err
	}
	return ordersync.RunOptions{
		Filters:      filters,
		FetchDetails: r.FetchDetails,
		BatchSize:    r.BatchSize,
	}, nil
}

// runView представляет прогон в ответе GET /runs.
type runView struct {
	domain.RunSummary
	Status     domain.RunStatus `json:"status"`
	FatalError string           `json:"fatal_error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// newRouter собирает HTTP-маршруты: метрики, health-проверки и управление прогонами.
func newRouter(health *healthcheck.Handler, api *adminAPI) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/healthz", health)
	r.Get("/readyz", health.ReadinessHandler)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Current())
	})

	if api != nil {
		r.Post("/sync/{mode}", api.triggerSync)
		r.Get("/runs", api.listRuns)
		r.Get("/schedule", api.schedule)
	}
	return r
}

func (a *adminAPI) triggerSync(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseSyncMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	opts, err := req.runOptions()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch err := a.trigger.Trigger(mode, opts); {
	case err == nil:
	case errors.Is(err, scheduler.ErrBusy):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, scheduler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.logger.WithFields(log.Fields{
		"mode":       mode,
		"request_id": middleware.GetReqID(r.Context()),
	}).Info("sync run triggered over http")
	writeJSON(w, http.StatusAccepted, map[string]string{"mode": string(mode), "status": "accepted"})
}

func (a *adminAPI) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsList
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxRunsList)
	}

	runs, err := a.runs.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView{
			RunSummary: run.Summary,
			Status:     run.Status,
			FatalError: run.FatalError,
			DurationMs: run.Summary.Duration().Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *adminAPI) schedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.trigger.Next())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// startHTTPServer слушает addr и обслуживает handler в фоне.
func startHTTPServer(addr string, handler http.Handler, logger *log.Entry) (*http.Server, net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("admin http: %s (/metrics, /healthz, /readyz, /livez)", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("http server failed")
		}
	}()
	return srv, lis.Addr(), nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
