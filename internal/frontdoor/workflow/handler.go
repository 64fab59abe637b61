// Package workflow serves the pipeline routes: listing, synchronous
// execution, NDJSON progress streaming and run journal lookups.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
	"github.com/tjfontaine/polyglot-relay/internal/frontdoor"
	"github.com/tjfontaine/polyglot-relay/internal/pipeline"
	"github.com/tjfontaine/polyglot-relay/internal/server"
	"github.com/tjfontaine/polyglot-relay/internal/storage"
	"github.com/tjfontaine/polyglot-relay/internal/stream"
	"github.com/tjfontaine/polyglot-relay/internal/telemetry"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 20
	maxListLimit     = 100
)

// CatalogSource returns the catalog new runs borrow their pipeline from.
// Runs keep the pipeline they started with across reloads.
type CatalogSource interface {
	Catalog() *pipeline.Catalog
}

// CatalogFunc adapts a function to CatalogSource.
type CatalogFunc func() *pipeline.Catalog

func (f CatalogFunc) Catalog() *pipeline.Catalog { return f() }

// StreamObserver is told how each progress stream ended.
type StreamObserver interface {
	StreamFinished(pipeline, outcome string)
}

type Handler struct {
	catalogs CatalogSource
	executor *pipeline.Executor
	recorder *storage.Recorder
	streams  StreamObserver
	stream   config.StreamConfig
	logger   *slog.Logger
}

type Option func(*Handler)

// WithStreamConfig sets answer chunking and pacing.
func WithStreamConfig(cfg config.StreamConfig) Option {
	return func(h *Handler) {
		h.stream = cfg
	}
}

// WithStreamObserver reports stream outcomes, e.g. to metrics.
func WithStreamObserver(o StreamObserver) Option {
	return func(h *Handler) {
		h.streams = o
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(catalogs CatalogSource, executor *pipeline.Executor, recorder *storage.Recorder, opts ...Option) *Handler {
	h := &Handler{
		catalogs: catalogs,
		executor: executor,
		recorder: recorder,
		stream: config.StreamConfig{
			ChunkSize:     stream.DefaultChunkSize,
			ChunkInterval: stream.DefaultChunkInterval,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.recorder == nil {
		h.recorder = storage.NewRecorder(nil, nil, h.logger)
	}
	return h
}

// Registrations lists the routes served by h.
func (h *Handler) Registrations() []frontdoor.HandlerRegistration {
	return []frontdoor.HandlerRegistration{
		{Method: http.MethodGet, Path: "/api/workflows", Handler: h.HandleListWorkflows},
		{Method: http.MethodPost, Path: "/api/workflow/{name}", Handler: h.HandleExecute},
		{Method: http.MethodPost, Path: "/api/workflow/{name}/stream", Handler: h.HandleStream},
		{Method: http.MethodGet, Path: "/api/runs", Handler: h.HandleListRuns},
		{Method: http.MethodGet, Path: "/api/runs/{id}", Handler: h.HandleGetRun},
	}
}

// HandleStream runs a pipeline and streams its progress as NDJSON. Request
// validation failures are answered with a JSON error before any run starts;
// after that the response is always 200 and failures travel in-band.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	p, input, apiErr := h.prepare(r)
	if apiErr != nil {
		server.AddError(r.Context(), apiErr)
		frontdoor.WriteError(w, apiErr)
		return
	}

	x := h.executor.Execute(r.Context(), p, input)
	server.AddLogField(r.Context(), "pipeline", p.Name())
	server.AddLogField(r.Context(), "run_id", x.ID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Run-ID", x.ID)
	w.WriteHeader(http.StatusOK)

	sink := stream.NewLineWriter(w)
	emitter := stream.NewEmitter(sink,
		stream.WithChunkSize(h.stream.ChunkSize),
		stream.WithChunkInterval(h.stream.ChunkInterval),
		stream.WithLogger(h.logger.With(slog.String("run_id", x.ID))),
	)

	driveErr := emitter.Drive(r.Context(), x.Progress)
	for range x.Progress {
	}

	snap, runErr := x.Wait()
	h.recorder.Record(r.Context(), snap, server.GetRequestID(r.Context()))

	outcome := telemetry.StreamAnswered
	switch {
	case emitter.Err() != nil:
		outcome = telemetry.StreamTransportFault
		server.AddError(r.Context(), emitter.Err())
	case !emitter.Answered():
		outcome = telemetry.StreamFailed
		server.AddError(r.Context(), runErr)
	case driveErr != nil:
		server.AddError(r.Context(), driveErr)
	}
	if h.streams != nil {
		h.streams.StreamFinished(p.Name(), outcome)
	}
}

type executeResponse struct {
	Success         bool                 `json:"success"`
	RunID           string               `json:"runId,omitempty"`
	OriginalMessage string               `json:"originalMessage,omitempty"`
	Result          string               `json:"result,omitempty"`
	Trace           []domain.StageRecord `json:"trace,omitempty"`
	Error           string               `json:"error,omitempty"`
	Details         string               `json:"details,omitempty"`
}

// HandleExecute runs a pipeline to completion and returns the result in one
// JSON body.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	p, input, apiErr := h.prepare(r)
	if apiErr != nil {
		server.AddError(r.Context(), apiErr)
		frontdoor.WriteError(w, apiErr)
		return
	}
	server.AddLogField(r.Context(), "pipeline", p.Name())

	snap, err := h.executor.Run(r.Context(), p, input)
	server.AddLogField(r.Context(), "run_id", snap.ID)
	h.recorder.Record(r.Context(), snap, server.GetRequestID(r.Context()))

	if err != nil {
		server.AddError(r.Context(), err)
		frontdoor.WriteJSON(w, http.StatusInternalServerError, executeResponse{
			Success: false,
			RunID:   snap.ID,
			Error:   "Workflow execution failed",
			Details: snap.FailureReason,
		})
		return
	}

	frontdoor.WriteJSON(w, http.StatusOK, executeResponse{
		Success:         true,
		RunID:           snap.ID,
		OriginalMessage: input,
		Result:          snap.Result,
		Trace:           domain.CopyTrace(snap.Trace),
	})
}

type stageInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type workflowInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Input       string      `json:"input"`
	Stages      []stageInfo `json:"stages"`
}

// HandleListWorkflows describes every configured pipeline.
func (h *Handler) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	catalog := h.catalogs.Catalog()
	out := []workflowInfo{}
	for _, p := range catalog.All() {
		info := workflowInfo{
			Name:        p.Name(),
			Description: p.Description(),
			Input:       inputField(p),
		}
		for _, st := range p.Stages() {
			info.Stages = append(info.Stages, stageInfo{ID: st.ID, Label: st.Label})
		}
		out = append(out, info)
	}

	frontdoor.WriteJSON(w, http.StatusOK, map[string]any{"workflows": out})
}

// HandleGetRun returns one journaled run.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	journal := h.recorder.Journal()
	if journal == nil {
		frontdoor.WriteError(w, journalDisabled())
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := journal.GetRun(r.Context(), id)
	if errors.Is(err, ports.ErrRunNotFound) {
		frontdoor.WriteError(w, domain.ErrNotFound(fmt.Sprintf("run %q not found", id)).
			WithCode(domain.ErrorCodeRunNotFound))
		return
	}
	if err != nil {
		server.AddError(r.Context(), err)
		frontdoor.WriteError(w, domain.ErrServer("failed to load run"))
		return
	}

	frontdoor.WriteJSON(w, http.StatusOK, rec)
}

// HandleListRuns lists journaled runs, newest first. Query parameters:
// pipeline, status, limit (default 20, max 100) and offset.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	journal := h.recorder.Journal()
	if journal == nil {
		frontdoor.WriteError(w, journalDisabled())
		return
	}

	q := r.URL.Query()
	opts := ports.ListOptions{
		Pipeline: q.Get("pipeline"),
		Status:   domain.RunStatus(q.Get("status")),
		Limit:    defaultListLimit,
	}
	if opts.Status != "" && !opts.Status.Terminal() && opts.Status != domain.RunRunning {
		frontdoor.WriteError(w, domain.ErrInvalidRequest(fmt.Sprintf("unknown status %q", opts.Status)).WithParam("status"))
		return
	}

	var apiErr *domain.APIError
	if opts.Limit, apiErr = intParam(q.Get("limit"), "limit", defaultListLimit); apiErr != nil {
		frontdoor.WriteError(w, apiErr)
		return
	}
	if opts.Limit == 0 {
		opts.Limit = defaultListLimit
	}
	opts.Limit = min(opts.Limit, maxListLimit)
	if opts.Offset, apiErr = intParam(q.Get("offset"), "offset", 0); apiErr != nil {
		frontdoor.WriteError(w, apiErr)
		return
	}

	runs, err := journal.ListRuns(r.Context(), opts)
	if err != nil {
		server.AddError(r.Context(), err)
		frontdoor.WriteError(w, domain.ErrServer("failed to list runs"))
		return
	}

	frontdoor.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// prepare resolves the pipeline named in the path and extracts its input
// field from the JSON body.
func (h *Handler) prepare(r *http.Request) (*pipeline.Pipeline, string, *domain.APIError) {
	name := chi.URLParam(r, "name")
	p, ok := h.catalogs.Catalog().Get(name)
	if !ok {
		return nil, "", domain.ErrNotFound(fmt.Sprintf("workflow %q not found", name)).
			WithCode(domain.ErrorCodePipelineNotFound)
	}

	input, apiErr := decodeInput(r.Body, inputField(p))
	if apiErr != nil {
		return nil, "", apiErr
	}
	return p, input, nil
}

// decodeInput reads {"<field>": "<non-empty string>"}.
func decodeInput(body io.Reader, field string) (string, *domain.APIError) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(body, maxBodyBytes)).Decode(&raw); err != nil {
		return "", domain.ErrInvalidRequest("request body must be a JSON object").
			WithCode(domain.ErrorCodeInvalidJSON)
	}

	missing := domain.ErrInvalidRequest(field + " is required and must be a non-empty string").
		WithCode(domain.ErrorCodeMissingMessage).
		WithParam(field)

	value, ok := raw[field]
	if !ok {
		return "", missing
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", missing
	}
	if strings.TrimSpace(s) == "" {
		return "", missing
	}
	return s, nil
}

func inputField(p *pipeline.Pipeline) string {
	if f := p.Input().Field; f != "" {
		return f
	}
	return config.DefaultInputField
}

func intParam(v, name string, def int) (int, *domain.APIError) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.ErrInvalidRequest(name + " must be a non-negative integer").WithParam(name)
	}
	return n, nil
}

func journalDisabled() *domain.APIError {
	return domain.ErrServer("run journal is disabled").WithStatusCode(http.StatusServiceUnavailable)
}
