package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// ===== infra helpers =====

type MiddlewareFunc func(http.Handler) http.Handler

func chainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

func loggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("<%s> %s %s", prefix, r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

func recoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Printf("<%s> panic: %v", prefix, err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// ===== liveness =====

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "running",
		"service":   serviceName,
		"version":   serviceVersion,
		"transport": "SSE",
		"endpoints": map[string]any{
			"root":   "/",
			"health": "/health",
			"sse":    "/sse",
			"mcp":    "/mcp/sse",
		},
		"documentation": "MCP server for the Timecount employee API",
	})
}

// ===== health =====

type healthStatus string

const (
	healthStatusHealthy   healthStatus = "healthy"
	healthStatusDegraded  healthStatus = "degraded"
	healthStatusUnhealthy healthStatus = "unhealthy"
)

// handleHealth reports healthy only when the tool gateway exists and a live
// upstream probe succeeds. Each request probes anew; results are not cached.
func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			log.Printf("<health> check error: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": healthStatusUnhealthy,
				"error":  fmt.Sprint(err),
			})
		}
	}()

	registryReady := a.gateway != nil

	apiHealthy := false
	if registryReady && a.client != nil {
		if err := a.client.probe(r.Context()); err != nil {
			log.Printf("<health> API test failed: %v", err)
		} else {
			apiHealthy = true
		}
	}

	status := healthStatusDegraded
	if registryReady && apiHealthy {
		status = healthStatusHealthy
	}

	mcpState := "not initialized"
	if registryReady {
		mcpState = "initialized"
	}
	apiState := "failed"
	if apiHealthy {
		apiState = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"mcp_server":     mcpState,
		"api_connection": apiState,
		"timestamp":      unixSeconds(time.Now()),
	})
}

// ===== push channel =====

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func writeSSEEvent(w io.Writer, flusher http.Flusher, event string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handleSSE runs one push-channel session: a handshake event, then one ping
// per interval until the client disconnects. Events are flushed
// unconditionally; flow control is the transport's problem.
func (a *app) handleSSE(w http.ResponseWriter, r *http.Request) {
	if a.gateway == nil {
		log.Printf("<sse> endpoint called but tool gateway not initialized")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "MCP server not initialized",
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	session := uuid.New().String()
	log.Printf("<sse> new connection established session=%s", session)

	if err := writeSSEEvent(w, flusher, "message", map[string]any{
		"type":   "connection",
		"status": "connected",
		"server": serviceName,
	}); err != nil {
		log.Printf("<sse> handshake failed session=%s: %v", session, err)
		return
	}

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			log.Printf("<sse> connection closed by client session=%s", session)
			return
		case <-ticker.C:
			err := writeSSEEvent(w, flusher, "ping", map[string]any{
				"type":      "ping",
				"timestamp": unixSeconds(time.Now()),
			})
			if err != nil {
				log.Printf("<sse> event generator error session=%s: %v", session, err)
				_ = writeSSEEvent(w, flusher, "error", map[string]any{
					"type":    "error",
					"message": err.Error(),
				})
				return
			}
		}
	}
}

// ===== main HTTP server =====

func newHTTPMux(a *app) *http.ServeMux {
	httpMux := http.NewServeMux()

	mws := []MiddlewareFunc{recoverMiddleware("gateway")}
	if a.config.Options.LogEnabled.OrElse(false) || envEnabled("LOG_REQUESTS") {
		mws = append(mws, loggerMiddleware("gateway"))
	}

	httpMux.Handle("/", chainMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		handleRoot(w, r)
	}), mws...))
	httpMux.Handle("/health", chainMiddleware(http.HandlerFunc(a.handleHealth), mws...))
	httpMux.Handle("/sse", chainMiddleware(http.HandlerFunc(a.handleSSE), mws...))

	// full MCP protocol endpoint backed by the generated tool registry
	sseServer := server.NewSSEServer(a.mcpServer, server.WithStaticBasePath("/mcp"))
	httpMux.Handle("/mcp/", sseServer)

	return httpMux
}

// startHTTPServer serves until SIGINT/SIGTERM, then drains connections with a
// bounded shutdown. The caller releases the upstream pool afterwards, so the
// surface always stops accepting before the pool closes.
func startHTTPServer(a *app) error {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: newHTTPMux(a),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var eg errgroup.Group
	eg.Go(func() error {
		defer stop()
		log.Printf("Listening on http://0.0.0.0:%d", a.config.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Println("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return eg.Wait()
}
