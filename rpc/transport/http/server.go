package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// DefaultMetricsPath is used when the server config does not name one
const DefaultMetricsPath = "/metrics"

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc
	metrics transport.MetricsWriteFunc
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) RegisterMetrics(writer transport.MetricsWriteFunc) {
	t.metrics = writer
}

func (t *httpServerTransport) Listen(ctx context.Context, config common.ServerConfig) error {
	// Create the server with the admin routes
	srv := &http.Server{
		Addr:              config.Endpoint,
		Handler:           t.mux(config),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shut down the server once the context is cancelled
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Errorf("Failed to shut down HTTP server: %v", err)
		}
	}()

	// Start the server (blocks until shutdown)
	Logger.Infof("Starting HTTP server on %s", config.Endpoint)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// mux builds the routes of the admin server
func (t *httpServerTransport) mux(config common.ServerConfig) *http.ServeMux {
	metricsPath := config.MetricsPath
	if metricsPath == "" {
		metricsPath = DefaultMetricsPath
	}

	// Only log requests at debug level
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if config.LogLevel == "debug" {
		wrap = loggerMiddleware
	}

	// Register the routes
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{shardId}", wrap(t.handleRequest))
	mux.HandleFunc("GET "+metricsPath, wrap(t.handleMetrics))
	return mux
}

// handleRequest handles incoming admin requests and writes the response
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	// Parse the shard id from the path
	shardId, err := strconv.ParseUint(r.PathValue("shardId"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid shardId", http.StatusBadRequest)
		return
	}

	// Read the request body
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	// Check if a handler is registered
	if t.handler == nil {
		http.Error(w, "No handler registered", http.StatusServiceUnavailable)
		return
	}

	// Handle the request and write the response
	if _, err = w.Write(t.handler(shardId, body)); err != nil {
		Logger.Warningf("Failed to write response: %v", err)
	}
}

// handleMetrics writes all registered metrics in the Prometheus text format
func (t *httpServerTransport) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if t.metrics == nil {
		http.Error(w, "No metrics registered", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	t.metrics(w)
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
