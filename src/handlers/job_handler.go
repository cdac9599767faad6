// src/handlers/job_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/services"
	"github.com/username/transferbot/src/utils"
)

type JobHandler struct {
	jobs *services.JobService
}

func NewJobHandler(jobs *services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// HandleRun launches a job and returns its id.
func (h *JobHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var params services.JobParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		utils.SendJSONError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if params.Type == "" {
		params.Type = services.JobTransfer
	}

	id, err := h.jobs.Launch(params)
	if err != nil {
		log.Warn("Job launch rejected", "type", params.Type, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Info("Job launched from API", "jobID", id, "type", params.Type)
	utils.SendJSON(w, map[string]string{"jobID": id}, http.StatusAccepted)
}

// HandleStatus reports one job's state.
func (h *JobHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	view, ok := h.jobs.Get(id)
	if !ok {
		utils.SendJSONError(w, "job not found", http.StatusNotFound)
		return
	}
	utils.SendJSON(w, view, http.StatusOK)
}

// HandleLogs returns the tail of a job's run log as plain text.
func (h *JobHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if _, ok := h.jobs.Get(id); !ok {
		utils.SendJSONError(w, "job not found", http.StatusNotFound)
		return
	}
	tail, err := h.jobs.LogsTail(id)
	if err != nil {
		if os.IsNotExist(err) {
			tail = ""
		} else {
			logger.FromContext(r.Context()).Error("Failed to read run log", "jobID", id, "error", err)
			utils.SendJSONError(w, "failed to read log", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(tail))
}

// HandleJobs lists every job still in the registry.
func (h *JobHandler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	utils.SendJSON(w, h.jobs.List(), http.StatusOK)
}

// HandleStopAll cancels all active jobs.
func (h *JobHandler) HandleStopAll(w http.ResponseWriter, r *http.Request) {
	n := h.jobs.StopAll()
	utils.SendJSON(w, map[string]int{"stopped": n}, http.StatusOK)
}

// HandleFetchAccounts launches an account scan job.
func (h *JobHandler) HandleFetchAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := h.jobs.Launch(services.JobParams{Type: services.JobScan})
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	utils.SendJSON(w, map[string]string{"jobID": id}, http.StatusAccepted)
}

// HandleAccounts returns the result of a finished scan job.
func (h *JobHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	view, ok := h.jobs.Get(id)
	if !ok {
		utils.SendJSONError(w, "job not found", http.StatusNotFound)
		return
	}
	accounts, done := h.jobs.Accounts(id)
	utils.SendJSON(w, map[string]any{
		"status":   view.Status,
		"accounts": accounts,
		"ready":    done,
	}, http.StatusOK)
}
