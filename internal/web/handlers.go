package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetsync/internal/core"
	"github.com/JonMunkholm/sheetsync/internal/logging"
	"github.com/JonMunkholm/sheetsync/internal/store"
)

const (
	maxEventBodySize = 1 << 20
	maxFormMemory    = 32 << 20
)

var appIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validAppID(id string) error {
	if !appIDPattern.MatchString(id) {
		return badRequest{fmt.Errorf("invalid app id %q", id)}
	}
	return nil
}

// parseIntParam parses a non-negative integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// ----------------------------------------------------------------------------
// Health
// ----------------------------------------------------------------------------

type healthResponse struct {
	Status   string                `json:"status"`
	Database string                `json:"database,omitempty"`
	Runs     core.RunLimiterStatus `json:"runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Runs: s.service.LimiterStatus()}
	status := http.StatusOK

	if s.runs != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.runs.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health: database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// ----------------------------------------------------------------------------
// Submission webhook
// ----------------------------------------------------------------------------

// recordSubmittedRequest accepts both the platform's webhook body
// ({"app": {"id": ...}, "record": {...}}) and a flat {"app_id": ...} form.
type recordSubmittedRequest struct {
	AppID string `json:"app_id"`
	App   *struct {
		ID json.Number `json:"id"`
	} `json:"app"`
	Record map[string]core.EventFieldValue `json:"record"`
}

func (req recordSubmittedRequest) event() core.SubmissionEvent {
	appID := req.AppID
	if appID == "" && req.App != nil {
		appID = req.App.ID.String()
	}
	return core.SubmissionEvent{AppID: appID, Record: req.Record}
}

type runAccepted struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
}

func (s *Server) handleRecordSubmitted(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBodySize)

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req recordSubmittedRequest
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, badRequest{fmt.Errorf("decode submission event: %w", err)})
		return
	}

	ev := req.event()
	if err := validAppID(ev.AppID); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Record == nil {
		respondError(w, r, badRequest{errors.New("submission event has no record")})
		return
	}

	runID, err := s.service.Start(r.Context(), ev)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("submission accepted", "app_id", ev.AppID, "run_id", runID)
	writeJSON(w, http.StatusAccepted, runAccepted{RunID: runID, StatusURL: "/api/runs/" + runID})
}

// ----------------------------------------------------------------------------
// Runs
// ----------------------------------------------------------------------------

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	result, err := s.service.Result(r.Context(), runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCancelRun aborts a run still held in memory. The run finishes as
// failed; poll the status URL for its final state.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.service.Cancel(runID); err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("run cancel requested", "run_id", runID)
	writeJSON(w, http.StatusAccepted, runAccepted{RunID: runID, StatusURL: "/api/runs/" + runID})
}

type runListResponse struct {
	Runs   []core.RunResult `json:"runs"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	if err := validAppID(appID); err != nil {
		respondError(w, r, err)
		return
	}

	opts := store.ListOptions{
		SourceApp: appID,
		Phase:     core.RunPhase(r.URL.Query().Get("phase")),
		Limit:     min(parseIntParam(r, "limit", store.DefaultListLimit), store.MaxListLimit),
		Offset:    parseIntParam(r, "offset", 0),
	}
	if opts.Limit == 0 {
		opts.Limit = store.DefaultListLimit
	}

	runs, err := s.runs.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runListResponse{Runs: runs, Limit: opts.Limit, Offset: opts.Offset})
}

// ----------------------------------------------------------------------------
// Validation and preview
// ----------------------------------------------------------------------------

type validateRequest struct {
	FileNames []string `json:"file_names"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	if err := validAppID(appID); err != nil {
		respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventBodySize)
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, badRequest{fmt.Errorf("decode validation request: %w", err)})
		return
	}
	if len(req.FileNames) == 0 {
		respondError(w, r, core.ErrNoFile)
		return
	}

	result, err := s.service.ValidateFiles(r.Context(), appID, req.FileNames)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	if err := validAppID(appID); err != nil {
		respondError(w, r, err)
		return
	}

	limit := s.cfg.Processing.MaxFileSize + maxEventBodySize
	if r.ContentLength > limit {
		respondError(w, r, fmt.Errorf("%w: request is %d bytes", core.ErrFileTooLarge, r.ContentLength))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: request exceeds %d bytes", core.ErrFileTooLarge, tooLarge.Limit))
			return
		}
		respondError(w, r, badRequest{fmt.Errorf("invalid multipart form: %w", err)})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ErrNoFile)
		return
	}
	defer file.Close()

	if !core.IsExcelFile(header.Filename) {
		respondError(w, r, badRequest{fmt.Errorf("%s: unsupported file type", header.Filename)})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read uploaded file: %w", err))
		return
	}

	mapped, err := s.service.Preview(r.Context(), appID, header.Filename, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapped)
}
