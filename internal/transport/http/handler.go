package httptransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"audita/internal/aggregation"
	"audita/internal/ids"
	"audita/internal/platform/metrics"
	"audita/internal/snapshot"
	"audita/pkg/platform/audit"
	"audita/pkg/platform/httputil"
	"audita/pkg/platform/sentinel"
	"audita/pkg/requestcontext"
)

// SnapshotReader is the read side of a snapshot store.
type SnapshotReader interface {
	Load(ctx context.Context, runID string) (*snapshot.Snapshot, error)
	List(ctx context.Context) ([]snapshot.Info, error)
}

// EventReader reads the audit trail of a run.
type EventReader interface {
	ListByRun(ctx context.Context, runID string) ([]audit.Event, error)
}

// SubjectRunLister finds the runs that audited a subject. Stores that index
// subject keys implement it.
type SubjectRunLister interface {
	ListBySubject(ctx context.Context, keys ...string) ([]snapshot.Info, error)
}

// Handler serves aggregation views over stored runs. It never mutates a
// snapshot; every view is rebuilt from the stored subjects.
type Handler struct {
	store       SnapshotReader
	subjectRuns SubjectRunLister
	events      EventReader
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New constructs a query handler. events may be nil, in which case the audit
// trail endpoint is not mounted. The subject history endpoint is mounted only
// when store implements SubjectRunLister.
func New(store SnapshotReader, events EventReader, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{store: store, events: events, logger: logger, metrics: m}
	if lister, ok := store.(SubjectRunLister); ok {
		h.subjectRuns = lister
	}
	return h
}

// Register mounts the run endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/runs", h.HandleListRuns)
	if h.subjectRuns != nil {
		r.Get("/subjects/{key}/runs", h.HandleSubjectRuns)
	}
	r.Route("/runs/{runID}", func(r chi.Router) {
		r.Get("/tables/{kind}", h.HandleTable)
		r.Get("/summary", h.HandleSummary)
		r.Get("/subjects/{key}", h.HandleSubject)
		if h.events != nil {
			r.Get("/events", h.HandleEvents)
		}
	})
}

// HandleListRuns handles GET /runs.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, "list runs failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RunsResponse{Runs: infos})
}

// HandleSubjectRuns handles GET /subjects/{key}/runs, newest run first.
func (h *Handler) HandleSubjectRuns(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	infos, err := h.subjectRuns.ListBySubject(r.Context(), key)
	if err != nil {
		h.fail(w, r, "list subject runs failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SubjectRunsResponse{Key: key, Runs: nonNil(infos)})
}

// HandleTable handles GET /runs/{runID}/tables/{kind}. ?format=csv returns
// the table as CSV instead of JSON.
func (h *Handler) HandleTable(w http.ResponseWriter, r *http.Request) {
	kind, err := aggregation.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, httputil.NewError(httputil.CodeBadRequest, err.Error()))
		return
	}
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "csv" {
		httputil.WriteError(w, httputil.NewError(httputil.CodeBadRequest, fmt.Sprintf("unsupported format %q", format)))
		return
	}

	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	table, err := aggregation.Build(kind, snap.Subjects)
	if err != nil {
		h.fail(w, r, "build table failed", err)
		return
	}

	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.RunID+"-"+string(kind)+".csv"))
		w.WriteHeader(http.StatusOK)
		if err := table.WriteCSV(w); err != nil {
			h.logger.ErrorContext(r.Context(), "write csv failed",
				"request_id", requestcontext.RequestID(r.Context()),
				"run_id", snap.RunID,
				"error", err,
			)
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, table)
}

// HandleSummary handles GET /runs/{runID}/summary. ?top=N bounds the top
// lists.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	top := aggregation.DefaultTop
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, httputil.NewError(httputil.CodeBadRequest, "top must be a positive integer"))
			return
		}
		top = n
	}

	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SummaryResponse{
		RunID:     snap.RunID,
		CreatedAt: snap.CreatedAt,
		Summary:   aggregation.Summarize(snap.Subjects, top),
	})
}

// HandleSubject handles GET /runs/{runID}/subjects/{key}.
func (h *Handler) HandleSubject(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	sub, found := snap.Subject(key)
	if !found {
		httputil.WriteError(w, httputil.NewError(httputil.CodeNotFound, fmt.Sprintf("subject %s not in run %s", key, snap.RunID)))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSubject(snap.RunID, sub))
}

// HandleEvents handles GET /runs/{runID}/events. A run with no recorded
// events yields an empty list, not a 404; the trail is best-effort.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := ids.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		httputil.WriteError(w, httputil.NewError(httputil.CodeBadRequest, err.Error()))
		return
	}
	events, err := h.events.ListByRun(r.Context(), runID.String())
	if err != nil {
		h.fail(w, r, "list events failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEvents(runID.String(), events))
}

// load resolves the run in the path. Malformed ids are rejected before the
// store is consulted.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*snapshot.Snapshot, bool) {
	runID, err := ids.ParseRunID(chi.URLParam(r, "runID"))
	if err != nil {
		httputil.WriteError(w, httputil.NewError(httputil.CodeBadRequest, err.Error()))
		return nil, false
	}
	snap, err := h.store.Load(r.Context(), runID.String())
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		h.metrics.IncrementSnapshotLoad("miss")
		httputil.WriteError(w, httputil.NewError(httputil.CodeNotFound, fmt.Sprintf("run %s not found", runID)))
		return nil, false
	case err != nil:
		h.metrics.IncrementSnapshotLoad("error")
		h.fail(w, r, "load snapshot failed", err)
		return nil, false
	}
	h.metrics.IncrementSnapshotLoad("hit")
	return snap, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"run_id", chi.URLParam(r, "runID"),
		"error", err,
	)
	httputil.WriteError(w, err)
}
