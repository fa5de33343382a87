package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-caption/internal/audio"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/eventstore"
	"github.com/loqalabs/loqa-caption/internal/session"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	journal, err := eventstore.Open(context.Background(), config.EventStoreConfig{RetentionMode: "session"}, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	r := New(config.Default(), newLogger())
	r.journal = journal
	r.store = session.NewStore()
	r.store.OnChange(journal.Listener(context.Background()))
	return r
}

func decode[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHandleUpdateEmpty(t *testing.T) {
	r := newTestRuntime(t)
	rec := httptest.NewRecorder()
	r.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/update", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"logs":[]`) {
		t.Fatalf("expected empty logs array, got %s", rec.Body.String())
	}
}

func TestHandleUpdateListsCommittedThenDraft(t *testing.T) {
	r := newTestRuntime(t)
	r.store.AppendCommitted(session.Utterance{SourceText: "hello there", TranslatedText: "안녕하세요"})
	r.store.SetDraft(session.Draft{SourceText: "how are", TranslatedText: "[translating...]", TranslationPending: true})

	rec := httptest.NewRecorder()
	r.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/update", nil))
	resp := decode[updateResponse](t, rec.Body)

	if resp.SessionID != r.store.SessionID() {
		t.Fatalf("unexpected session id %q", resp.SessionID)
	}
	if len(resp.Logs) != 2 {
		t.Fatalf("expected 2 entries, got %+v", resp.Logs)
	}
	if resp.Logs[0].IsDraft || resp.Logs[0].TranslatedText != "안녕하세요" {
		t.Fatalf("unexpected committed entry %+v", resp.Logs[0])
	}
	if !resp.Logs[1].IsDraft || !resp.Logs[1].TranslationPending {
		t.Fatalf("unexpected draft entry %+v", resp.Logs[1])
	}
}

func TestHandleClear(t *testing.T) {
	r := newTestRuntime(t)
	r.store.AppendCommitted(session.Utterance{SourceText: "hello"})
	before := r.store.SessionID()

	for _, method := range []string{http.MethodPost, http.MethodGet} {
		rec := httptest.NewRecorder()
		r.routes().ServeHTTP(rec, httptest.NewRequest(method, "/clear", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s /clear: expected 200, got %d", method, rec.Code)
		}
		if got := decode[map[string]string](t, rec.Body); got["status"] != "cleared" {
			t.Fatalf("unexpected clear response %v", got)
		}
		if len(r.store.Snapshot()) != 0 {
			t.Fatal("expected empty snapshot")
		}
	}
	if r.store.SessionID() == before {
		t.Fatal("expected session id to rotate")
	}
}

func TestHandleHistory(t *testing.T) {
	r := newTestRuntime(t)
	r.store.SetDraft(session.Draft{SourceText: "hel"})
	r.store.AppendCommitted(session.Utterance{SourceText: "hello"})

	rec := httptest.NewRecorder()
	r.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=1", nil))
	resp := decode[historyResponse](t, rec.Body)
	if len(resp.Events) != 1 || resp.Events[0].Type != "draft" {
		t.Fatalf("expected first draft event, got %+v", resp.Events)
	}

	rec = httptest.NewRecorder()
	r.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	sessions := decode[[]eventstore.Session](t, rec.Body)
	if len(sessions) != 1 || sessions[0].Events != 2 {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestIndexAndProbes(t *testing.T) {
	r := newTestRuntime(t)
	handler := r.routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/update") {
		t.Fatalf("expected display page, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before start, got %d", rec.Code)
	}
	r.ready.Store(true)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected no nodes without bus, got %s", rec.Body.String())
	}
}

func TestStartServesCaptionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.wav")
	samples := make([]float32, 16000*4)
	for i := range samples[:32000] {
		if i%2 == 0 {
			samples[i] = 0.3
		} else {
			samples[i] = -0.3
		}
	}
	if err := audio.WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Capture.Source = "wav"
	cfg.Capture.File = path
	cfg.Capture.Realtime = false
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Host = "127.0.0.1"
	cfg.Bus.Port = -1
	cfg.Node.HeartbeatInterval = 50

	r := New(cfg, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("start returned %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("runtime did not stop")
		}
	}()

	var resp updateResponse
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if addr := r.Addr(); addr != "" {
			if res, err := http.Get("http://" + addr + "/update"); err == nil {
				resp = decode[updateResponse](t, res.Body)
				res.Body.Close()
				if len(resp.Logs) > 0 && !resp.Logs[len(resp.Logs)-1].IsDraft {
					break
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	if len(resp.Logs) != 1 {
		t.Fatalf("expected one committed caption, got %+v", resp.Logs)
	}
	if resp.Logs[0].SourceText != "[en speech 3.0s]" || resp.Logs[0].TranslatedText != "[ko] [en speech 3.0s]" {
		t.Fatalf("unexpected caption %+v", resp.Logs[0])
	}

	res, err := http.Get("http://" + r.Addr() + "/nodes")
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	defer res.Body.Close()
	if body, _ := io.ReadAll(res.Body); !strings.Contains(string(body), cfg.Node.ID) {
		t.Fatalf("expected local node in %s", body)
	}
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf strings.Builder
	logger := NewLogger(&buf, config.TelemetryConfig{LogLevel: "warn", LogFormat: "json"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output %q", out)
	}

	buf.Reset()
	NewLogger(&buf, config.TelemetryConfig{LogLevel: "debug", LogFormat: "text"}).Debug("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Fatalf("expected text handler output, got %q", buf.String())
	}
}
