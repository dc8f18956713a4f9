package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manjussha/ctxmon/internal/monitor"
	"github.com/Manjussha/ctxmon/internal/store"
	"github.com/Manjussha/ctxmon/internal/tokenizer"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newServer(t *testing.T, key string) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mon := monitor.New(mem, tokenizer.NewEstimatorWith(nil, 0, 0), nil, monitor.Options{})
	mux := http.NewServeMux()
	SetupRoutes(mux, &Deps{Monitor: mon, APIKey: key})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mem
}

func do(t *testing.T, srv *httptest.Server, method, path, body, key string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	var env envelope
	_ = json.Unmarshal(buf.Bytes(), &env)
	return resp.StatusCode, env
}

func TestAPI_TrackAndQuery(t *testing.T) {
	srv, mem := newServer(t, "")

	code, env := do(t, srv, http.MethodPost, "/api/v1/messages", `{"content":"日本語のテキスト","role":"user"}`, "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	var tr struct {
		Analysis struct {
			PrimaryLanguage string `json:"primaryLanguage"`
		} `json:"analysis"`
		Metrics monitor.Metrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &tr))
	assert.Equal(t, "target", tr.Analysis.PrimaryLanguage)
	assert.Positive(t, tr.Metrics.Current)

	code, _ = do(t, srv, http.MethodPost, "/api/v1/files", `{"path":"main.go","content":"package main"}`, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, mem.Files, 1)
	assert.Len(t, mem.Messages, 1)

	code, env = do(t, srv, http.MethodGet, "/api/v1/metrics", "", "")
	require.Equal(t, http.StatusOK, code)
	var m monitor.Metrics
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, monitor.StatusSafe, m.Status)
	assert.Equal(t, 200_000, m.Max)

	code, env = do(t, srv, http.MethodGet, "/api/v1/metrics?size=190000", "", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, monitor.StatusCritical, m.Status)
	assert.Len(t, mem.Alerts, 1)

	code, env = do(t, srv, http.MethodGet, "/api/v1/recommendations", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(string(env.Data), "["))

	code, env = do(t, srv, http.MethodGet, "/api/v1/session", "", "")
	require.Equal(t, http.StatusOK, code)
	var sv struct {
		Stats store.SessionStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sv))
	assert.Equal(t, 1, sv.Stats.MessageCount)
}

func TestAPI_Reset(t *testing.T) {
	srv, mem := newServer(t, "")
	do(t, srv, http.MethodGet, "/api/v1/metrics?size=50000", "", "")

	code, env := do(t, srv, http.MethodPost, "/api/v1/reset", `{"source":"clear"}`, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	require.Len(t, mem.Resets, 1)
	assert.Equal(t, 50_000, mem.Resets[0].PreviousSize)

	code, env = do(t, srv, http.MethodPost, "/api/v1/reset", `{"source":"reboot"}`, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestAPI_BadRequests(t *testing.T) {
	srv, _ := newServer(t, "")

	code, _ := do(t, srv, http.MethodPost, "/api/v1/messages", `{"content":`, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := do(t, srv, http.MethodPost, "/api/v1/files", `{"content":"x"}`, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "path is required", env.Error)

	code, _ = do(t, srv, http.MethodGet, "/api/v1/metrics?size=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_RequireAPIKey(t *testing.T) {
	srv, _ := newServer(t, "s3cret")

	code, _ := do(t, srv, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodGet, "/api/v1/metrics", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, srv, http.MethodGet, "/api/v1/metrics", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, srv, http.MethodGet, "/api/v1/metrics", "", "s3cret")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, srv, http.MethodGet, "/api/v1/status?key=s3cret", "", "")
	assert.Equal(t, http.StatusOK, code)
}
