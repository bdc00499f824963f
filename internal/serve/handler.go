package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gftdcojp/tickstore/internal/config"
	"go.uber.org/zap"
)

type handler struct {
	svc    *service
	logger *zap.Logger
}

// NewHandler returns the HTTP API mux.
func NewHandler(d Deps) http.Handler {
	h := &handler{svc: newService(d), logger: d.Logger}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/files", h.handleSearch)
	mux.HandleFunc("GET /v1/files/{path...}", h.handleFile)
	mux.HandleFunc("GET /v1/tiers", h.handleTiers)
	mux.HandleFunc("GET /v1/quota", h.handleQuota)
	mux.HandleFunc("POST /v1/quota/check", h.handleQuotaCheck)
	mux.HandleFunc("GET /v1/actions", h.handleActions)
	mux.HandleFunc("POST /v1/admin/rebuild", h.handleRebuild)
	mux.HandleFunc("POST /v1/admin/verify", h.handleVerify)
	mux.HandleFunc("POST /v1/admin/lifecycle", h.handleLifecycle)
	return mux
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, d Deps) error {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewHandler(d),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.status(r.Context())
	h.respond(w, resp, err)
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := SearchRequest{
		Symbols:       listParam(q["symbol"]),
		EventTypes:    listParam(q["event_type"]),
		Sources:       listParam(q["source"]),
		Tiers:         listParam(q["tier"]),
		From:          q.Get("from"),
		To:            q.Get("to"),
		MinSize:       q.Get("min_size"),
		MaxSize:       q.Get("max_size"),
		SchemaVersion: q.Get("schema_version"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		req.Limit = n
	}
	resp, err := h.svc.search(req)
	h.respond(w, resp, err)
}

// listParam accepts repeated and comma-separated values.
func listParam(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (h *handler) handleFile(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.file(r.PathValue("path"))
	h.respond(w, resp, err)
}

func (h *handler) handleTiers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.tiers()
	h.respond(w, resp, err)
}

func (h *handler) handleQuota(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.quotaStatus()
	h.respond(w, resp, err)
}

func (h *handler) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	var req QuotaCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	resp, err := h.svc.quotaCheck(req)
	h.respond(w, resp, err)
}

func (h *handler) handleActions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	resp, err := h.svc.actions(r.Context(), limit)
	h.respond(w, resp, err)
}

func (h *handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	checksums, err := boolParam(r, "checksums")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp, err := h.svc.rebuild(r.Context(), checksums)
	h.respond(w, resp, err)
}

func (h *handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	stop, err := boolParam(r, "stop_on_first_error")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp, err := h.svc.verify(r.Context(), stop != nil && *stop)
	h.respond(w, resp, err)
}

func (h *handler) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	dryRun, err := boolParam(r, "dry_run")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	resp, err := h.svc.lifecycle(r.Context(), dryRun)
	h.respond(w, resp, err)
}

// boolParam returns nil when the query parameter is absent.
func boolParam(r *http.Request, name string) (*bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errors.New("invalid " + name)
	}
	return &v, nil
}

func (h *handler) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("API request failed", zap.Error(err))
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
