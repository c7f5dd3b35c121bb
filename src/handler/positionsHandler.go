package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"ladderexecutor/src/model"
	"ladderexecutor/src/repository"
)

type positionLister interface {
	FindLatest(ctx context.Context, limit int) ([]model.Position, error)
}

type positionFinder interface {
	FindByID(ctx context.Context, id uint) (*model.Position, error)
}

// PositionOpener creates a new position for a trader and enqueues its
// dispatch job.
type PositionOpener interface {
	OpenNew(ctx context.Context, traderID uint, tradeConfiguration string) (*model.Position, error)
}

// ListPositionsHandler returns a handler that lists the latest positions.
// Supports a limit query parameter, default 50.
func ListPositionsHandler(repo positionLister) http.HandlerFunc {
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

		positions, err := repo.FindLatest(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to list positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(positions); err != nil {
			logger.WithError(err).Error("failed to encode positions response")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

// GetPositionHandler returns a handler that fetches one position with
// its order legs.
func GetPositionHandler(repo positionFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idParam := chi.URLParam(r, "id")
		id, err := strconv.ParseUint(idParam, 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		pos, err := repo.FindByID(r.Context(), uint(id))
		if err != nil {
			logger.WithError(err).Error("failed to fetch position")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if pos == nil {
			http.Error(w, "position not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(pos); err != nil {
			logger.WithError(err).Error("failed to encode position response")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

type openPositionRequest struct {
	TraderID           uint   `json:"trader_id"`
	TradeConfiguration string `json:"trade_configuration,omitempty"`
}

// OpenPositionHandler returns a handler that opens a new position for a
// trader. The trade configuration is optional and defaults to the
// trader's configured plan.
func OpenPositionHandler(opener PositionOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openPositionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.TraderID == 0 {
			http.Error(w, "trader_id is required", http.StatusBadRequest)
			return
		}

		pos, err := opener.OpenNew(r.Context(), req.TraderID, req.TradeConfiguration)
		if err != nil {
			logger.WithError(err).WithField("trader_id", req.TraderID).Error("failed to open position")
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(pos); err != nil {
			logger.WithError(err).Error("failed to encode open position response")
		}
	}
}

// DefaultListPositionsHandler wires the handler to the production repository implementation.
func DefaultListPositionsHandler() http.HandlerFunc {
	return ListPositionsHandler(repository.NewPositionRepository())
}

// DefaultGetPositionHandler wires the handler to the production repository implementation.
func DefaultGetPositionHandler() http.HandlerFunc {
	return GetPositionHandler(repository.NewPositionRepository())
}
