package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"ladderexecutor/src/model"
	"ladderexecutor/src/repository"
)

type jobLister interface {
	FindRecent(ctx context.Context, limit int) ([]model.JobQueueEntry, error)
}

// ListJobsHandler returns a handler that lists the latest job ledger
// entries, newest first. Supports a limit query parameter.
func ListJobsHandler(repo jobLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		entries, err := repo.FindRecent(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to list jobs")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			logger.WithError(err).Error("failed to encode jobs response")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

// DefaultListJobsHandler wires the handler to the production repository implementation.
func DefaultListJobsHandler() http.HandlerFunc {
	return ListJobsHandler(repository.NewJobQueueRepository())
}
