// src/handlers/transfer_handler.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/username/transferbot/src/database"
	"github.com/username/transferbot/src/logger"
	"github.com/username/transferbot/src/model"
	"github.com/username/transferbot/src/utils"
)

type TransferHandler struct{}

func NewTransferHandler() *TransferHandler {
	return &TransferHandler{}
}

// HandleListTransfers returns the most recent audit ledger rows.
func (h *TransferHandler) HandleListTransfers(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	records, err := model.ListTransferRecords(database.DB, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list transfer records", "error", err)
		utils.SendJSONError(w, "failed to read transfers ledger", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TransferRecord{}
	}
	utils.SendJSON(w, records, http.StatusOK)
}

// HandleJobTransfers returns one job's ledger rows in order.
func (h *TransferHandler) HandleJobTransfers(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	records, err := model.ListTransferRecordsByJob(database.DB, jobID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list job transfer records", "jobID", jobID, "error", err)
		utils.SendJSONError(w, "failed to read transfers ledger", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.TransferRecord{}
	}
	utils.SendJSON(w, records, http.StatusOK)
}
