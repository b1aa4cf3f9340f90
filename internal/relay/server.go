package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
)

const (
	// DefaultChunkSize is the server-dictated chunk size handed to clients at
	// session negotiation.
	DefaultChunkSize = 4 << 20 // 4 MiB

	shutdownTimeout = 5 * time.Second
)

type Config struct {
	// Addr is the listen address, e.g. ":8022".
	Addr string

	// DataDir is where committed entries and chunk spools live.
	DataDir string

	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int64

	// ExternalURL is the base URL clients reach this server on; it prefixes
	// the pre-authorized upload endpoints handed out for direct-policy
	// sessions. Defaults to http://<Addr>.
	ExternalURL string
}

// Server is the development relay: an HTTP upload store speaking the session
// and chunk protocol against the local filesystem.
type Server struct {
	config *Config
	server *http.Server
	store  *Store

	chunkSize   int64
	externalURL string
}

func New(config *Config) (*Server, error) {
	store, err := NewStore(config.DataDir)
	if err != nil {
		return nil, err
	}

	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	externalURL := config.ExternalURL
	if externalURL == "" {
		externalURL = "http://" + config.Addr
	}

	s := &Server{
		config:      config,
		store:       store,
		chunkSize:   chunkSize,
		externalURL: externalURL,
	}
	s.server = &http.Server{
		Addr:    config.Addr,
		Handler: s.buildRoutes(),
	}
	return s, nil
}

func (s *Server) buildRoutes() http.Handler {
	engine := gin.New()

	httpLogger := slog.Default().WithGroup("http")
	engine.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	}))
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.BestSpeed))
	engine.Use(cors.Default())

	s.registerRoutes(engine)
	return engine
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		slog.Info("relay server start", "addr", s.config.Addr, "dataDir", s.config.DataDir)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("relay server shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
