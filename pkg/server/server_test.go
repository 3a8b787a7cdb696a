package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanstream/spanstream/internal/metrics"
	"github.com/spanstream/spanstream/pkg/extract"
	"github.com/spanstream/spanstream/pkg/session"
)

// wordBackend extracts one positioned span per known word in the text.
type wordBackend struct {
	words map[string]string
	err   error
}

func (b *wordBackend) Extract(_ context.Context, text string) (*extract.Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	var spans []extract.Span
	for word, class := range b.words {
		idx := strings.Index(text, word)
		if idx < 0 {
			continue
		}
		spans = append(spans, extract.Span{
			Class:    class,
			Text:     word,
			Interval: &extract.Interval{Start: idx, End: idx + len(word)},
		})
	}
	return &extract.Document{Text: text, Spans: spans}, nil
}

func setupTestServer(t *testing.T, backend extract.Extractor) (*Server, *httptest.Server) {
	t.Helper()

	srv, err := NewServer(Config{
		Host: "127.0.0.1",
		Port: 8080,
		Options: func() extract.Options {
			return extract.DefaultOptions("gpt-4o-mini")
		},
		NewExtractor: func(opts extract.Options) (extract.Extractor, error) {
			if opts.ModelID == "broken-model" {
				return nil, fmt.Errorf("unknown model: %s", opts.ModelID)
			}
			return backend, nil
		},
		Metrics: metrics.NewMetrics(),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readOutcome(t *testing.T, conn *websocket.Conn) session.Outcome {
	t.Helper()
	var o session.Outcome
	require.NoError(t, conn.ReadJSON(&o))
	return o
}

func TestNewServer_Validation(t *testing.T) {
	opts := func() extract.Options { return extract.DefaultOptions("gpt-4o-mini") }
	m := metrics.NewMetrics()

	_, err := NewServer(Config{Port: 0, Options: opts, Metrics: m})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080, Metrics: m})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080, Options: opts})
	assert.Error(t, err)
}

func TestServer_WebSocketSingleShot(t *testing.T) {
	backend := &wordBackend{words: map[string]string{"aspirin": "medication"}}
	_, ts := setupTestServer(t, backend)

	conn := dialWS(t, ts, "")

	info := readOutcome(t, conn)
	assert.Equal(t, session.OutcomeInfo, info.Type)
	assert.Contains(t, info.Message, "model_id=gpt-4o-mini")
	assert.Contains(t, info.Message, "aggregate=false")

	require.NoError(t, conn.WriteJSON(session.Frame{Role: "user", Content: "take aspirin"}))

	assert.Equal(t, session.OutcomeProcessing, readOutcome(t, conn).Type)

	result := readOutcome(t, conn)
	require.Equal(t, session.OutcomeResult, result.Type)
	require.Len(t, result.Extractions, 1)
	assert.Equal(t, "aspirin", result.Extractions[0].Text)
}

func TestServer_WebSocketAggregate(t *testing.T) {
	backend := &wordBackend{words: map[string]string{
		"aspirin":   "medication",
		"ibuprofen": "medication",
	}}
	_, ts := setupTestServer(t, backend)

	conn := dialWS(t, ts, "?aggregate=true")

	info := readOutcome(t, conn)
	assert.Contains(t, info.Message, "aggregate=true")

	require.NoError(t, conn.WriteJSON(session.Frame{Role: "user", Content: "take aspirin"}))
	assert.Equal(t, session.OutcomeProcessing, readOutcome(t, conn).Type)
	first := readOutcome(t, conn)
	require.Equal(t, session.OutcomeAggregateResult, first.Type)
	require.Len(t, first.Extractions, 1)

	require.NoError(t, conn.WriteJSON(session.Frame{Role: "assistant", Content: "try ibuprofen"}))
	assert.Equal(t, session.OutcomeProcessing, readOutcome(t, conn).Type)
	second := readOutcome(t, conn)
	require.Equal(t, session.OutcomeAggregateResult, second.Type)
	require.Len(t, second.Extractions, 1)
	assert.Equal(t, "ibuprofen", second.Extractions[0].Text)

	// Reset keeps the connection open and acknowledges.
	require.NoError(t, conn.WriteJSON(session.Frame{EOT: true}))
	assert.Equal(t, session.OutcomeResetAck, readOutcome(t, conn).Type)

	require.NoError(t, conn.WriteJSON(session.Frame{Role: "user", Content: "aspirin again"}))
	assert.Equal(t, session.OutcomeProcessing, readOutcome(t, conn).Type)
	fresh := readOutcome(t, conn)
	require.Equal(t, session.OutcomeAggregateResult, fresh.Type)
	require.Len(t, fresh.Extractions, 1)
	assert.Equal(t, "aspirin", fresh.Extractions[0].Text)
}

func TestServer_WebSocketMalformedFrame(t *testing.T) {
	_, ts := setupTestServer(t, &wordBackend{})

	conn := dialWS(t, ts, "")
	readOutcome(t, conn) // info

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, session.OutcomeMalformed, readOutcome(t, conn).Type)

	// The session keeps serving after a malformed frame.
	require.NoError(t, conn.WriteJSON(session.Frame{Content: "hello"}))
	assert.Equal(t, session.OutcomeProcessing, readOutcome(t, conn).Type)
}

func TestServer_WebSocketRejectsBadQuery(t *testing.T) {
	_, ts := setupTestServer(t, &wordBackend{})

	tests := []struct {
		name  string
		query string
	}{
		{"bad aggregate", "?aggregate=maybe"},
		{"bad temperature", "?temperature=hot"},
		{"bad schema flag", "?use_schema_constraints=yep"},
		{"bad buffer", "?max_char_buffer=-3"},
		{"broken extractor config", "?model_id=broken-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + tt.query
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_WebSocketQueryOverrides(t *testing.T) {
	_, ts := setupTestServer(t, &wordBackend{})

	conn := dialWS(t, ts, "?model_id=gpt-4o&temperature=0.3&max_char_buffer=500")
	info := readOutcome(t, conn)
	assert.Contains(t, info.Message, "model_id=gpt-4o")
}

func TestServer_ExtractEndpoint(t *testing.T) {
	backend := &wordBackend{words: map[string]string{"aspirin": "medication"}}
	_, ts := setupTestServer(t, backend)

	body, err := json.Marshal(ExtractRequest{
		Messages: []extract.Message{
			{Role: "user", Content: "I take aspirin"},
			{Role: "assistant", Content: "noted"},
		},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/extract", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out ExtractResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "gpt-4o-mini", out.ModelID)
	assert.Equal(t, "user: I take aspirin\nassistant: noted", out.Text)
	require.Len(t, out.Extractions, 1)
	assert.Equal(t, "aspirin", out.Extractions[0].Text)
	require.NotNil(t, out.Extractions[0].CharStart)
}

func TestServer_ExtractRejectsBadRequests(t *testing.T) {
	_, ts := setupTestServer(t, &wordBackend{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDetail string
	}{
		{"invalid json", "{not json", http.StatusBadRequest, "invalid json body"},
		{"no messages", `{"messages":[]}`, http.StatusBadRequest, "messages must be provided"},
		{"broken model", `{"messages":[{"content":"x"}],"model_id":"broken-model"}`, http.StatusBadRequest, "unknown model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/extract", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var e errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Contains(t, e.Detail, tt.wantDetail)
		})
	}
}

func TestServer_ExtractBackendFailure(t *testing.T) {
	backend := &wordBackend{err: fmt.Errorf("model unavailable")}
	_, ts := setupTestServer(t, backend)

	resp, err := http.Post(ts.URL+"/extract", "application/json",
		strings.NewReader(`{"messages":[{"content":"hello"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Contains(t, e.Detail, "extraction failed")
}

func TestServer_ExtractMethodNotAllowed(t *testing.T) {
	_, ts := setupTestServer(t, &wordBackend{})

	resp, err := http.Get(ts.URL + "/extract")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	_, ts := setupTestServer(t, &wordBackend{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, ts := setupTestServer(t, &wordBackend{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ClientRegistryTracksConnections(t *testing.T) {
	srv, ts := setupTestServer(t, &wordBackend{})

	conn := dialWS(t, ts, "")
	readOutcome(t, conn) // info, so the connection is fully up

	require.Eventually(t, func() bool {
		return srv.clients.Count() == 1
	}, time.Second, 10*time.Millisecond)

	infos := srv.GetConnectedClients()
	require.Len(t, infos, 1)
	assert.NotEmpty(t, infos[0].ID)

	conn.Close()
	require.Eventually(t, func() bool {
		return srv.clients.Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestClientRegistry_IdleClients(t *testing.T) {
	r := NewClientRegistry()
	r.Add(&Client{ID: "old", LastActivity: time.Now().Add(-10 * time.Minute)})
	r.Add(&Client{ID: "fresh", LastActivity: time.Now()})

	idle := r.IdleClients(5 * time.Minute)
	require.Len(t, idle, 1)
	assert.Equal(t, "old", idle[0].ID)
}
