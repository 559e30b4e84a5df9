// Package statusapi serves the device's local status endpoints: outbox
// state, pending approvals, connectivity and Prometheus metrics.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/solatis/pricekeeper/internal/outbox"
	"github.com/solatis/pricekeeper/internal/types"
)

// Outbox is the part of *outbox.Engine the endpoints read.
type Outbox interface {
	List(ctx context.Context) ([]types.OutboxEntry, error)
	Entry(ctx context.Context, id types.LocalID) (types.OutboxEntry, error)
	Status(ctx context.Context, id types.LocalID) (types.EntryStatus, error)
	Flush(ctx context.Context) (outbox.FlushReport, error)
}

// Approvals lists undecided approval requests.
type Approvals interface {
	Pending(ctx context.Context) ([]types.ApprovalRequest, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

type entryStatusResponse struct {
	LocalID      types.LocalID     `json:"local_id"`
	Status       types.EntryStatus `json:"status"`
	Kind         types.PayloadKind `json:"kind,omitempty"`
	AttemptCount int               `json:"attempt_count"`
	LastError    string            `json:"last_error,omitempty"`
}

// NewRouter creates the HTTP router.
func NewRouter(box Outbox, approvals Approvals, conn outbox.Connectivity, registry *prometheus.Registry, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/healthz", healthzHandler(box, conn, logger))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/outbox", listOutboxHandler(box, logger))
		r.Post("/outbox/flush", flushHandler(box, logger))
		r.Get("/outbox/{localId}", entryStatusHandler(box, logger))
		r.Get("/approvals/pending", pendingApprovalsHandler(approvals, logger))
	})

	return r
}

func healthzHandler(box Outbox, conn outbox.Connectivity, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := box.List(r.Context())
		if err != nil {
			logger.Error("outbox unavailable", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "outbox unavailable")
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Online: conn.Online(), Pending: len(entries)})
	}
}

func listOutboxHandler(box Outbox, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := box.List(r.Context())
		if err != nil {
			logger.Error("list outbox", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries == nil {
			entries = []types.OutboxEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func entryStatusHandler(box Outbox, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := types.ParseLocalID(chi.URLParam(r, "localId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		st, err := box.Status(r.Context(), id)
		if errors.Is(err, types.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			logger.Error("outbox status", zap.String("local_id", string(id)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := entryStatusResponse{LocalID: id, Status: st}
		if entry, err := box.Entry(r.Context(), id); err == nil {
			resp.Kind = entry.Kind
			resp.AttemptCount = entry.AttemptCount
			resp.LastError = entry.LastError
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func flushHandler(box Outbox, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := box.Flush(r.Context())
		if err != nil {
			logger.Warn("manual flush", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func pendingApprovalsHandler(approvals Approvals, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := approvals.Pending(r.Context())
		if err != nil {
			logger.Error("pending approvals", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if pending == nil {
			pending = []types.ApprovalRequest{}
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
