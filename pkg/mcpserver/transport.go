package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// defaultShutdownTimeout bounds graceful HTTP shutdown.
	defaultShutdownTimeout = 35 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Run serves the MCP server over transport until the session ends or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// ServeStdio serves one session on stdin/stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio")
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the HTTP handler: streamable MCP on /mcp and a health
// check on /mcp/health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil))
	mux.HandleFunc("/mcp/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	names, def := s.dispatcher.Accounts()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"tools":           len(s.dispatcher.Tools()),
		"accounts":        names,
		"default_account": def,
	})
}

// ServeHTTP listens on addr and serves until ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.serveListener(ctx, listener)
}

func (s *Server) serveListener(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("serving MCP over HTTP", "addr", listener.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("HTTP server error: %w", err)
	}
}
