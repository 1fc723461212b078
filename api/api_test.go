package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sdpdash/config"
	"sdpdash/events"
	"sdpdash/gateway"
	"sdpdash/gateway/gatewaytest"
	"sdpdash/runner"
	"sdpdash/search"
	"sdpdash/settings"
	"sdpdash/shell"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type env struct {
	backend *gatewaytest.Server
	shell   *shell.Shell
	broker  *events.Broker
	server  *Server
	ts      *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backend := gatewaytest.New(t)
	cfg := config.Default()
	cfg.APIURL = backend.APIURL()
	cfg.DataDir = t.TempDir()
	cfg.PollInterval = time.Hour

	sh, err := shell.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sh.Close() })

	broker := events.NewBroker(nil)
	srv := NewServer(sh, broker, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{backend: backend, shell: sh, broker: broker, server: srv, ts: ts}
}

func (e *env) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestGetState(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decode[shell.Snapshot](t, body)
	assert.Equal(t, "/home", snap.Location.Path)
	assert.Equal(t, runner.Idle, snap.Stages[runner.Generate].Status)
	assert.True(t, snap.Settings.NotificationsEnabled)
}

func TestNavigate(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/navigate", map[string]string{"route": "/nope"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loc := decode[shell.Location](t, body)
	assert.True(t, loc.NotFound)
	assert.Equal(t, shell.NotFoundTitle, e.shell.Nav.Current().Title)
}

func TestPostStageGenerate(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodPost, "/api/stages/generate", stageRequest{Count: 5})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, runner.Loading, decode[runner.StageState](t, body).Status)

	require.Eventually(t, func() bool {
		return e.shell.Generate.State().Status == runner.Success
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, e.shell.Generate.State().Count)
	e.shell.Generate.Wait()
}

func TestPostStageBusy(t *testing.T) {
	e := newEnv(t)
	release := e.backend.Block(gatewaytest.OpGenerate)
	t.Cleanup(release)

	resp, _ := e.do(t, http.MethodPost, "/api/stages/generate", stageRequest{Count: 5})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/api/stages/generate", stageRequest{Count: 5})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	release()
	e.shell.Generate.Wait()
	assert.Equal(t, 1, e.backend.Calls(gatewaytest.OpGenerate))
}

func TestPostStageBadInput(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/stages/process", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/stages/upload", stageRequest{Path: "data.xlsx"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "unsupported file type")

	resp, _ = e.do(t, http.MethodPost, "/api/stages/report", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, e.backend.Calls(gatewaytest.OpProcess))
}

func TestGetSearch(t *testing.T) {
	e := newEnv(t)
	e.backend.SeedStudents(gateway.Student{StudentID: "upl-7", FirstName: "Ada"})

	resp, body := e.do(t, http.MethodGet, "/api/search?q=upl", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[[]search.Result](t, body)
	require.Len(t, results, 3)
	assert.Equal(t, search.GroupPages, results[0].Group)
	assert.Equal(t, search.GroupActions, results[1].Group)
	assert.Equal(t, search.GroupStudents, results[2].Group)

	_, body = e.do(t, http.MethodGet, "/api/search?q=u", nil)
	assert.JSONEq(t, `[]`, string(body))
}

func TestSettings(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPut, "/api/settings", map[string]any{"darkMode": true, "primaryColor": "rose"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"class":"dark-mode"`)
	assert.True(t, e.shell.Settings.Current().DarkMode)
	assert.Equal(t, "#f43f5e", e.shell.Settings.Current().PrimaryColor)

	resp, _ = e.do(t, http.MethodPut, "/api/settings", map[string]any{"primaryColor": "#123456"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "#f43f5e", e.shell.Settings.Current().PrimaryColor)

	resp, body = e.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"colors"`)
}

func TestNotifications(t *testing.T) {
	e := newEnv(t)
	id := e.backend.AddNotification(gateway.NotificationGeneration, "Generated 5 records")
	e.backend.AddNotification(gateway.NotificationUpload, "Uploaded 5 records")

	resp, body := e.do(t, http.MethodPost, "/api/notifications/"+itoa(id)+"/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"unread":1`)

	resp, body = e.do(t, http.MethodPost, "/api/notifications/999/read", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Notification not found"}`, string(body))

	resp, _ = e.do(t, http.MethodPost, "/api/notifications/abc/read", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/api/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"unread":0`)
}

func TestChangelogFilter(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPut, "/api/changelog/filter", map[string]string{"filter": "GENERAL"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := e.do(t, http.MethodPut, "/api/changelog/filter", map[string]string{"filter": "backend"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"filter":"BACKEND"`)
}

func TestRunsHistory(t *testing.T) {
	e := newEnv(t)
	e.shell.Generate.SetCount(3)
	require.NoError(t, e.shell.Generate.Run(context.Background()))
	e.shell.Generate.Wait()

	resp, body := e.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]map[string]any](t, body)
	require.Len(t, runs, 1)

	resp, body = e.do(t, http.MethodGet, "/api/runs/"+itoa(int64(runs[0]["id"].(float64))), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"stage":"generate"`)

	resp, _ = e.do(t, http.MethodGet, "/api/runs/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"successes":1`)
}

func TestCORS(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodOptions, "/api/settings", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestEventsRelay(t *testing.T) {
	e := newEnv(t)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.server.Relay(relayCtx)
	}()
	t.Cleanup(func() {
		stopRelay()
		wg.Wait()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	dec := events.NewDecoder(resp.Body)
	msg, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "connected", msg.Event)

	require.Eventually(t, func() bool { return e.broker.Clients() == 1 }, time.Second, 5*time.Millisecond)
	e.shell.Toasts.Info("hello")

	for {
		msg, err := dec.Next()
		require.NoError(t, err)
		if msg.Event == EventToast && strings.Contains(msg.Data, "hello") {
			break
		}
	}

	require.NoError(t, e.shell.Settings.SetDarkMode(true))
	for {
		msg, err := dec.Next()
		require.NoError(t, err)
		if msg.Event == EventTheme && strings.Contains(msg.Data, `"class":"`+settings.DarkModeClass+`"`) {
			break
		}
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestWebDirFallsBackToIndex(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>sdp</html>"), 0o644))

	ts := httptest.NewServer(NewServer(e.shell, e.broker, nil, WithWebDir(dir)).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/report")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "sdp")

	resp, err = http.Get(ts.URL + "/api/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
