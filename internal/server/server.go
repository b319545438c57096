// Package server runs the dev server, its live-reload channel and the
// companion UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"sitepipe/internal/config"
	"sitepipe/internal/core"
	"sitepipe/internal/logging"
)

const readHeaderTimeout = 10 * time.Second

// Server owns the two listeners of a variant. Bind reserves them before any
// stage writes; Serve starts answering on them.
type Server struct {
	Variant core.Variant
	Config  config.ServerConfig

	// Root is the absolute destination root served in static mode.
	Root string

	Hub    *Hub
	Status StatusSource
	Logger *slog.Logger

	mu      sync.Mutex
	site    net.Listener
	ui      net.Listener
	servers []*http.Server
	wg      sync.WaitGroup
}

func (s *Server) log() *slog.Logger {
	if s.Logger == nil {
		return logging.Discard()
	}
	return s.Logger
}

// Bind opens both listeners. A port that is taken yields a ServerBindError
// and leaves nothing open.
func (s *Server) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.site != nil {
		return errors.New("server already bound")
	}

	site, err := net.Listen("tcp", s.Config.Addr())
	if err != nil {
		return core.NewServerBindError(s.Config.Addr(), err)
	}
	ui, err := net.Listen("tcp", s.Config.UIAddr())
	if err != nil {
		site.Close()
		return core.NewServerBindError(s.Config.UIAddr(), err)
	}
	s.site, s.ui = site, ui
	return nil
}

// Addr returns the bound dev server address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.site == nil {
		return ""
	}
	return s.site.Addr().String()
}

// UIAddr returns the bound companion UI address.
func (s *Server) UIAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ui == nil {
		return ""
	}
	return s.ui.Addr().String()
}

// Handler returns the dev server handler for the configured mode.
func (s *Server) Handler() (http.Handler, error) {
	if s.Hub == nil {
		s.Hub = NewHub(s.Variant, s.log())
	}

	var content http.Handler
	switch s.Config.Mode {
	case config.ModeProxy:
		origin, err := url.Parse(s.Config.Proxy)
		if err != nil {
			return nil, core.ConfigErrorf("proxy origin %q: %v", s.Config.Proxy, err)
		}
		content = newProxy(origin, s.log())
	default:
		content = gzhttp.GzipHandler(staticHandler{root: s.Root})
	}

	mux := http.NewServeMux()
	mux.Handle(LiveReloadPath, s.Hub)
	mux.HandleFunc(LiveReloadScript, serveClientScript)
	mux.Handle("/", content)
	return mux, nil
}

// Serve starts answering on the bound listeners and returns immediately.
func (s *Server) Serve() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.site == nil {
		return errors.New("server not bound")
	}
	if len(s.servers) > 0 {
		return errors.New("server already serving")
	}

	site := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}
	ui := &http.Server{Handler: s.uiRouter(), ReadHeaderTimeout: readHeaderTimeout}
	s.servers = []*http.Server{site, ui}
	s.start(site, s.site, "site")
	s.start(ui, s.ui, "ui")

	s.log().Info("Serving", "mode", string(s.Config.Mode), "url", "http://"+s.site.Addr().String(), "ui", "http://"+s.ui.Addr().String())
	return nil
}

func (s *Server) start(srv *http.Server, ln net.Listener, name string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("Server stopped", "server", name, "error", err)
		}
	}()
}

// Shutdown stops serving and releases the listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	servers := s.servers
	site, ui := s.site, s.ui
	s.servers, s.site, s.ui = nil, nil, nil
	s.mu.Unlock()

	if s.Hub != nil {
		s.Hub.Close()
	}

	var errs []error
	if len(servers) == 0 {
		for _, ln := range []net.Listener{site, ui} {
			if ln != nil {
				errs = append(errs, ln.Close())
			}
		}
	}
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down: %w", err))
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}
