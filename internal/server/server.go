package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/enzyme/unfurl/internal/config"
)

type TLSOptions struct {
	Mode     string // "off", "auto", "manual"
	CertFile string // manual mode
	KeyFile  string // manual mode
	Domain   string // auto mode
	Email    string // auto mode
	CacheDir string // auto mode
}

// TLSOptionsFrom maps the server TLS config section.
func TLSOptionsFrom(cfg config.TLSConfig) TLSOptions {
	return TLSOptions{
		Mode:     cfg.Mode,
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		Domain:   cfg.Auto.Domain,
		Email:    cfg.Auto.Email,
		CacheDir: cfg.Auto.CacheDir,
	}
}

type Server struct {
	httpServer     *http.Server
	addr           string
	tlsOpts        TLSOptions
	certManager    *autocert.Manager
	redirectServer *http.Server
}

func New(host string, port int, handler http.Handler, tlsOpts TLSOptions) *Server {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	s := &Server{
		addr:    addr,
		tlsOpts: tlsOpts,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// Resolving waits on a remote page and an image download may
			// follow, so leave room for two fetch timeouts.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}

	if tlsOpts.Mode == "auto" {
		s.certManager = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(tlsOpts.Domain),
			Cache:      autocert.DirCache(tlsOpts.CacheDir),
			Email:      tlsOpts.Email,
		}
		s.httpServer.TLSConfig = &tls.Config{
			GetCertificate: s.certManager.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}
		s.redirectServer = &http.Server{
			Addr:              ":80",
			Handler:           s.certManager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
	}

	return s
}

// Start blocks serving until Shutdown is called, returning
// http.ErrServerClosed in that case.
func (s *Server) Start() error {
	switch s.tlsOpts.Mode {
	case "auto":
		slog.Info("starting HTTPS server", "addr", s.addr, "tls", "auto", "domain", s.tlsOpts.Domain)
		go func() {
			slog.Info("starting HTTP redirect server", "addr", s.redirectServer.Addr)
			if err := s.redirectServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP redirect server error", "error", err)
			}
		}()
		return s.httpServer.ListenAndServeTLS("", "")
	case "manual":
		slog.Info("starting HTTPS server", "addr", s.addr, "tls", "manual")
		return s.httpServer.ListenAndServeTLS(s.tlsOpts.CertFile, s.tlsOpts.KeyFile)
	default:
		slog.Info("starting server", "addr", s.addr)
		return s.httpServer.ListenAndServe()
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	if s.redirectServer != nil {
		if err := s.redirectServer.Shutdown(ctx); err != nil {
			slog.Warn("HTTP redirect server shutdown error", "error", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) TLSMode() string {
	if s.tlsOpts.Mode == "" {
		return "off"
	}
	return s.tlsOpts.Mode
}
