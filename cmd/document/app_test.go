package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/scielo/kernel/internal/config"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Backend: config.BackendMemory, Sequence: config.SequenceStore, SequenceLabel: "CHANGES_SEQ"},
	}
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMemoryAppServesDocuments(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := newApp(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.close(context.Background())
	r := a.router()

	require.Equal(t, http.StatusOK, get(r, "/health").Code)

	w := get(r, "/ready")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"storage":"memory"`)

	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{"id":"S0034","document_type":"JOURNAL","content":{"title":"Revista"}}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = get(r, "/api/changes")
	require.Equal(t, http.StatusOK, w.Code)
	var feed struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feed))
	require.Len(t, feed.Results, 1)
	require.Equal(t, "S0034", feed.Results[0]["document_id"])
	require.Equal(t, "CREATE", feed.Results[0]["type"])

	require.Equal(t, http.StatusOK, get(r, "/swagger/doc.json").Code)
	require.Equal(t, http.StatusOK, get(r, "/metrics").Code)
}

func redisConfig(t *testing.T, m *mr.Miniredis) *config.Config {
	t.Helper()
	host, port, err := net.SplitHostPort(m.Addr())
	require.NoError(t, err)
	cfg := memoryConfig()
	cfg.Storage.Sequence = config.SequenceRedis
	cfg.Redis = config.RedisConfig{Host: host, Port: port}
	return cfg
}

func TestRedisSequenceApp(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	a, err := newApp(context.Background(), redisConfig(t, m))
	require.NoError(t, err)
	defer a.close(context.Background())
	r := a.router()

	for _, id := range []string{"A", "B"} {
		req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{"id":"`+id+`","document_type":"ARTICLE","content":{}}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	m.CheckGet(t, "seq:CHANGES_SEQ", "2")

	w := get(r, "/ready")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"redis":"up"`)

	m.Close()
	w = get(r, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "not_ready")
}

func TestRedisSequenceRequiresRedis(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	cfg := redisConfig(t, m)
	m.Close()

	_, err = newApp(context.Background(), cfg)
	require.Error(t, err)
}

func TestRateLimitedApp(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := memoryConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.5, Burst: 1}
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	r := a.router()

	require.Equal(t, http.StatusOK, get(r, "/health").Code)
	require.Equal(t, http.StatusTooManyRequests, get(r, "/health").Code)
}
