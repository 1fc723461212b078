package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"sdpdash/changelog"
	"sdpdash/gateway"
	"sdpdash/runner"
	"sdpdash/runner/storage"
	"sdpdash/search"
	"sdpdash/settings"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// GetState returns the shell snapshot.
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shell.Snapshot())
}

// PostNavigate moves the shell to {"route": "..."}.
func (s *Server) PostNavigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Route string `json:"route"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, s.shell.Navigate(r.Context(), req.Route))
}

type stageRequest struct {
	Count int    `json:"count"`
	Path  string `json:"path"`
}

// PostStage starts generate, process or upload in the background and
// returns the Loading state.
func (s *Server) PostStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
			return
		}
	}

	// The run outlives the request.
	ctx := context.WithoutCancel(r.Context())

	var (
		err   error
		state func() runner.StageState
	)
	switch kind := runner.Kind(r.PathValue("kind")); kind {
	case runner.Generate:
		page := s.shell.Generate
		if req.Count != 0 {
			page.SetCount(req.Count)
		}
		err, state = page.Start(ctx), page.State
	case runner.Process:
		page := s.shell.Process
		if err = selectFile(page.SelectFile, req.Path); err == nil {
			err = page.Start(ctx)
		}
		state = page.State
	case runner.Upload:
		page := s.shell.Upload
		if err = selectFile(page.SelectFile, req.Path); err == nil {
			err = page.Start(ctx)
		}
		state = page.State
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown stage: %s", kind))
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, state())
	case errors.Is(err, runner.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runner.ErrNoInput), errors.Is(err, runner.ErrWrongFileType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func selectFile(sel func(string) error, path string) error {
	if path == "" {
		return nil
	}
	return sel(path)
}

// GetSearch answers ?q= with pages, actions and students.
func (s *Server) GetSearch(w http.ResponseWriter, r *http.Request) {
	results := search.Lookup(r.Context(), s.shell.Gateway, r.URL.Query().Get("q"))
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

// GetSettings returns the settings with the derived theme and palette.
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settingsResponse())
}

// PutSettings replaces the settings.
func (s *Server) PutSettings(w http.ResponseWriter, r *http.Request) {
	next := s.shell.Settings.Current()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	if err := s.shell.Settings.Replace(next); err != nil {
		if errors.Is(err, settings.ErrUnknownColor) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to save settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settingsResponse())
}

func (s *Server) settingsResponse() map[string]any {
	return map[string]any{
		"settings": s.shell.Settings.Current(),
		"theme":    s.shell.Settings.Theme(),
		"colors":   settings.ColorOptions(),
	}
}

// PostMarkRead marks one notification read.
func (s *Server) PostMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid notification ID")
		return
	}
	if err := s.shell.Poller.MarkRead(r.Context(), id); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.shell.Poller.State())
}

// PostMarkAllRead marks every notification read.
func (s *Server) PostMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := s.shell.Poller.MarkAllRead(r.Context()); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.shell.Poller.State())
}

// writeGatewayError passes backend statuses through; transport failures
// become 502.
func writeGatewayError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	writeError(w, status, gateway.UserMessage(err))
}

// PutChangelogFilter sets {"filter": "ALL|FRONTEND|BACKEND"}.
func (s *Server) PutChangelogFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter string `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	f, err := changelog.ParseFilter(req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.shell.Feed.SetFilter(f)
	writeJSON(w, http.StatusOK, map[string]any{
		"filter":  f,
		"entries": s.shell.Feed.Filtered(),
	})
}

// GetRuns returns the 100 most recent recorded runs.
func (s *Server) GetRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.shell.Store.GetRuns(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns a single run with its steps.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := s.shell.Store.GetRun(runID)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %d", runID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	steps, err := s.shell.Store.GetStepExecutions(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get steps: %v", err))
		return
	}

	type RunResponse struct {
		Run   *storage.Run             `json:"run"`
		Steps []*storage.StepExecution `json:"steps"`
	}
	writeJSON(w, http.StatusOK, RunResponse{Run: run, Steps: steps})
}

// GetStats returns per-stage success counts and average durations.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.shell.Store.GetStageStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get stats: %v", err))
		return
	}
	if stats == nil {
		stats = []storage.StageStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}
