package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/logging"
	"github.com/hpungsan/perch/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates and configures the HTTP server for the Perch surface.
// The browser page at /launch is the UI surface the handoff delivers to.
func NewServer(env *ops.Env, version, bind string, port int) (*http.Server, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	h := &Handlers{
		env:      env,
		renderer: NewRenderer(templateSub, version, env.Logger),
	}

	mux := http.NewServeMux()

	// Pages
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/launch", http.StatusFound)
	})
	mux.HandleFunc("GET /launch", h.HandleLaunch)
	mux.HandleFunc("GET /debug", h.HandleDebug)
	mux.HandleFunc("GET /history", h.HandleHistory)
	mux.HandleFunc("GET /analyses/{id}", h.HandleAnalysis)

	// Surface API
	mux.HandleFunc("GET /api/events", h.HandleEvents)
	mux.HandleFunc("POST /api/ready", h.HandleReady)
	mux.HandleFunc("POST /api/reemit", h.HandleReemit)
	mux.HandleFunc("GET /api/snapshot", h.HandleSnapshot)
	mux.HandleFunc("POST /api/ingest", h.HandleIngest)
	mux.HandleFunc("POST /api/analyze", h.HandleAnalyze)
	mux.HandleFunc("POST /api/action", h.HandleAction)
	mux.HandleFunc("GET /api/health", h.HandleHealth)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and shuts it down gracefully on SIGINT/SIGTERM or
// when ctx is cancelled. onListening, if set, runs once the listener is bound.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger, onListening func(url string)) error {
	logger = logging.OrNop(logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind before serving so the logged URL carries the real port when Addr asks for :0.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	url := "http://" + ln.Addr().String()
	logger.Info("perch surface running", zap.String("url", url))
	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}
	if onListening != nil {
		onListening(url)
	}

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
