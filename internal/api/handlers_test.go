package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/realtime/internal/broker"
	"github.com/skillswap/realtime/internal/presence"
	"github.com/skillswap/realtime/internal/state"
)

type staticStats map[string]interface{}

func (s staticStats) Stats(context.Context) (map[string]interface{}, error) {
	return s, nil
}

func newTestAPI(t *testing.T, history StatsSource) *API {
	t.Helper()

	b := broker.New(broker.Config{
		Store:    state.NewStore(0),
		Presence: presence.NewTracker(),
	})
	go b.Run()
	t.Cleanup(b.Stop)
	return New(b, history)
}

func TestHealthHandler(t *testing.T) {
	a := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	a.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatsHandler(t *testing.T) {
	a := newTestAPI(t, staticStats{"message_count": 7, "room_count": 2})
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()

	a.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 0, body["active_rooms"])
	assert.EqualValues(t, 0, body["active_clients"])
	assert.EqualValues(t, 7, body["stored_messages"])
	assert.EqualValues(t, 2, body["stored_rooms"])
}

func TestStatsHandlerWithoutHistory(t *testing.T) {
	a := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()

	a.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, ok := body["stored_messages"]
	assert.False(t, ok)
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	rec := httptest.NewRecorder()

	a.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
