// Package mcp exposes the variable store as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/reducer"
	"github.com/report-variables-server/internal/remote"
)

// Transport names accepted by Run.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Loader loads a variable set from the backing store into store.
type Loader interface {
	LoadVariableSet(ctx context.Context, token domain.VariableIDToken, store *reducer.Store) (*remote.LoadResult, error)
}

// Server represents the report variables MCP server
type Server struct {
	cfg       domain.MCPConfig
	store     *reducer.Store
	loader    Loader
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates a new MCP server instance with every tool registered.
// A nil loader disables the load_variable_set tool.
func NewServer(cfg domain.MCPConfig, store *reducer.Store, loader Loader, logger *logrus.Logger) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "report-variables"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "v0.1.0"
	}

	serverInfo := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		loader:    loader,
		mcpServer: mcp.NewServer(serverInfo, nil),
		logger:    logger,
	}
	s.registerTools()
	return s
}

// Run serves MCP over the named transport until ctx is cancelled. The HTTP
// transport listens on addr with the streamable HTTP handler.
func (s *Server) Run(ctx context.Context, transport, addr string) error {
	s.logger.WithFields(logrus.Fields{
		"transport": transport,
		"server":    s.cfg.ServerName,
	}).Info("Starting MCP server")

	switch transport {
	case "", TransportStdio:
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unsupported MCP transport %q", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("MCP HTTP transport listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
