// Package server exposes the flattening engine over HTTP: it downloads an
// ePub by URL, converts it, returns the flattened page and serves the
// published assets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/simp-lee/epubflat"
	"github.com/simp-lee/epubflat/internal/logging"
)

// StaticPrefix is the URL path under which the output root is served.
const StaticPrefix = "/static"

// gzipMinSize is the smallest response body that gets compressed.
const gzipMinSize = 400

// Options configures a Server.
type Options struct {
	// Converter performs the conversions. Its AssetBaseURL should be
	// StaticPrefix so rewritten image sources resolve against this server.
	Converter *epubflat.Converter

	// OutputRoot is the Converter's output root, served under StaticPrefix.
	OutputRoot string

	// WorkDir receives downloaded archives. Empty means os.TempDir().
	WorkDir string

	// Client downloads archives. Nil means a default client.
	Client *http.Client

	// DownloadTimeout bounds one download plus conversion. Zero means no limit.
	DownloadTimeout time.Duration

	// MaxDownloadBytes limits the archive size. Zero means no limit.
	MaxDownloadBytes int64

	// ImageOptimizer, if set, is run in the background after each
	// conversion with the published directory appended to its arguments.
	ImageOptimizer []string

	Logger *zap.Logger
}

// Server handles the HTTP endpoints.
type Server struct {
	opts   Options
	logger *zap.Logger
	client *http.Client
	group  singleflight.Group

	// background tracks running image optimizers.
	background sync.WaitGroup
}

// New returns a Server with defaults applied to opts.
func New(opts Options) *Server {
	if opts.Converter == nil {
		opts.Converter = epubflat.NewConverter(epubflat.Options{
			OutputRoot:   opts.OutputRoot,
			AssetBaseURL: StaticPrefix,
			Logger:       opts.Logger,
		})
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:   opts,
		logger: logger,
		client: client,
	}
}

// Handler returns the root handler with CORS, compression, request-id and
// access-log middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /epub", s.handleEpub)
	mux.Handle("GET "+StaticPrefix+"/", http.StripPrefix(StaticPrefix, http.FileServer(http.Dir(s.opts.OutputRoot))))

	var h http.Handler = mux
	h = withCORS(h)
	if wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(gzipMinSize)); err == nil {
		h = wrap(h)
	} else {
		s.logger.Warn("gzip disabled", zap.Error(err))
	}
	return logging.Middleware(s.logger, h)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully and waits for background optimizers.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.Wait()
	return nil
}

// Wait blocks until every background image optimizer has exited.
func (s *Server) Wait() {
	s.background.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello, World!"})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
