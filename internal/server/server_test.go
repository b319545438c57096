package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"sitepipe/internal/config"
	"sitepipe/internal/core"
	"sitepipe/internal/testutil"
)

func staticConfig() config.ServerConfig {
	return config.ServerConfig{Mode: config.ModeStatic, Host: "127.0.0.1", LogLabel: "demo-site | 1.0.0 | preview"}
}

func startServer(t *testing.T, cfg config.ServerConfig, root string) *Server {
	t.Helper()
	s := &Server{Variant: core.VariantPreview, Config: cfg, Root: root}
	require.NoError(t, s.Bind())
	require.NoError(t, s.Serve())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func get(t *testing.T, url string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestInjectScript(t *testing.T) {
	got := string(injectScript([]byte("<html><BODY>hi</BODY></html>")))
	require.Equal(t, `<html><BODY>hi<script src="/__sitepipe/livereload.js"></script></BODY></html>`, got)

	got = string(injectScript([]byte("<p>fragment</p>")))
	require.True(t, strings.HasSuffix(got, `<script src="/__sitepipe/livereload.js"></script>`))
}

func TestBind_OccupiedPortIsServerBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := staticConfig()
	cfg.Port = port
	s := &Server{Variant: core.VariantBuild, Config: cfg, Root: t.TempDir()}
	err = s.Bind()
	require.ErrorIs(t, err, core.ErrServerBind)
	require.Contains(t, err.Error(), strconv.Itoa(port))
	require.Empty(t, s.Addr())

	// The UI port is checked too, and the site listener is released.
	cfg = staticConfig()
	cfg.UIPort = port
	s = &Server{Variant: core.VariantBuild, Config: cfg, Root: t.TempDir()}
	require.ErrorIs(t, s.Bind(), core.ErrServerBind)
	require.Empty(t, s.Addr())
}

func TestStatic_ServesAndInjects(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"index.html":    "<html><body><p>home</p></body></html>",
		"docs/a.html":   "<html><body>a</body></html>",
		"css/site.css":  strings.Repeat("body { color: red; }\n", 200),
		"robots.txt":    "User-agent: *\n",
		"docs/index.md": "not an index",
	})
	s := startServer(t, staticConfig(), root)
	base := "http://" + s.Addr()

	resp, body := get(t, base+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `<p>home</p><script src="/__sitepipe/livereload.js"></script></body>`)

	resp, body = get(t, base+"/docs/a.html", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "livereload.js")

	resp, body = get(t, base+"/robots.txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "User-agent: *\n", body)

	resp, _ = get(t, base+"/missing.html", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, base+"/docs/", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, base+"/css/site.css", map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	resp, body = get(t, base+LiveReloadScript, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, LiveReloadPath)
}

func TestProxy_InjectsIntoHTML(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page.php":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, "<html><body>from php</body></html>")
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	}))
	defer origin.Close()

	cfg := staticConfig()
	cfg.Mode = config.ModeProxy
	cfg.Proxy = origin.URL
	s := startServer(t, cfg, t.TempDir())
	base := "http://" + s.Addr()

	_, body := get(t, base+"/page.php", nil)
	require.Equal(t, `<html><body>from php<script src="/__sitepipe/livereload.js"></script></body></html>`, body)

	_, body = get(t, base+"/api", nil)
	require.Equal(t, `{"ok":true}`, body)
}

func TestLiveReload_NotifiesClients(t *testing.T) {
	s := startServer(t, staticConfig(), t.TempDir())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+LiveReloadPath, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	read := func() Message {
		t.Helper()
		var msg Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		return msg
	}

	require.Equal(t, KindHello, read().Type)
	require.Equal(t, 1, s.Hub.Clients())

	s.Hub.Notify([]string{"/css/a.css"})
	require.Equal(t, Message{Type: KindCSS, Paths: []string{"/css/a.css"}}, read())

	s.Hub.Notify([]string{"/css/a.css", "/index.html"})
	require.Equal(t, Message{Type: KindReload, Paths: []string{"/css/a.css", "/index.html"}}, read())

	s.Hub.Notify(nil)
	s.Hub.Reload()
	require.Equal(t, Message{Type: KindReload}, read())
}

func TestUI_Endpoints(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{"index.html": "<p>x</p>", "js/app.js": "x"})
	s := &Server{
		Variant: core.VariantPreview,
		Config:  staticConfig(),
		Root:    root,
		Status: StatusFunc(func() Status {
			return Status{RunID: "run-1", Variant: "preview", Label: "demo-site | 1.0.0 | preview", State: "ready",
				Stages: []StageStatus{{Category: "scripts", Trigger: "pipeline", Written: []string{"preview/js/app.js"}}}}
		}),
	}
	require.NoError(t, s.Bind())
	require.NoError(t, s.Serve())
	defer s.Shutdown(context.Background())
	base := "http://" + s.UIAddr()

	resp, body := get(t, base+"/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `"runId":"run-1"`)
	require.Contains(t, body, `"category":"scripts"`)

	resp, body = get(t, base+"/api/output", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `"path":"index.html"`)
	require.Contains(t, body, `"path":"js/app.js"`)

	resp, body = get(t, base+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "demo-site | 1.0.0 | preview")

	resp, err := http.Post(base+"/api/reload", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body = get(t, base+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "sitepipe_livereload_broadcasts_total")
}

func TestServe_RequiresBind(t *testing.T) {
	s := &Server{Variant: core.VariantPreview, Config: staticConfig(), Root: filepath.Join(t.TempDir(), "preview")}
	require.Error(t, s.Serve())
	require.NoError(t, s.Shutdown(context.Background()))
}
