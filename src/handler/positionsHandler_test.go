package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"ladderexecutor/src/model"
)

type mockPositionStore struct {
	positions   []model.Position
	position    *model.Position
	err         error
	limit       int
	calledCount int
}

func (m *mockPositionStore) FindLatest(_ context.Context, limit int) ([]model.Position, error) {
	m.calledCount++
	m.limit = limit
	return m.positions, m.err
}

func (m *mockPositionStore) FindByID(_ context.Context, _ uint) (*model.Position, error) {
	m.calledCount++
	return m.position, m.err
}

type mockOpener struct {
	position *model.Position
	err      error
	traderID uint
	plan     string
}

func (m *mockOpener) OpenNew(_ context.Context, traderID uint, plan string) (*model.Position, error) {
	m.traderID = traderID
	m.plan = plan
	return m.position, m.err
}

func TestListPositionsHandler(t *testing.T) {
	mockRepo := &mockPositionStore{positions: []model.Position{{ID: 1}, {ID: 2}}}
	handler := ListPositionsHandler(mockRepo)

	req := httptest.NewRequest(http.MethodGet, "/positions?limit=5", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, mockRepo.limit)

	var decoded []model.Position
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
}

func TestListPositionsHandler_InvalidLimit(t *testing.T) {
	handler := ListPositionsHandler(&mockPositionStore{})

	req := httptest.NewRequest(http.MethodGet, "/positions?limit=zero", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListPositionsHandler_RepoError(t *testing.T) {
	handler := ListPositionsHandler(&mockPositionStore{err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestGetPositionHandler_NotFound(t *testing.T) {
	handler := GetPositionHandler(&mockPositionStore{})

	router := chi.NewRouter()
	router.Get("/positions/{id}", handler)

	req := httptest.NewRequest(http.MethodGet, "/positions/42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetPositionHandler_InvalidID(t *testing.T) {
	handler := GetPositionHandler(&mockPositionStore{})

	router := chi.NewRouter()
	router.Get("/positions/{id}", handler)

	req := httptest.NewRequest(http.MethodGet, "/positions/abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOpenPositionHandler(t *testing.T) {
	mockRepo := &mockOpener{position: &model.Position{ID: 7, Status: model.PositionStatusNew}}
	handler := OpenPositionHandler(mockRepo)

	body := `{"trader_id": 3, "trade_configuration": "{}"}`
	req := httptest.NewRequest(http.MethodPost, "/positions", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, uint(3), mockRepo.traderID)
	assert.Equal(t, "{}", mockRepo.plan)
}

func TestOpenPositionHandler_MissingTrader(t *testing.T) {
	handler := OpenPositionHandler(&mockOpener{})

	req := httptest.NewRequest(http.MethodPost, "/positions", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOpenPositionHandler_OpenerError(t *testing.T) {
	handler := OpenPositionHandler(&mockOpener{err: assert.AnError})

	req := httptest.NewRequest(http.MethodPost, "/positions", strings.NewReader(`{"trader_id": 3}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
