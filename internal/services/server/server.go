// Package server hosts the imogine HTTP/WebSocket surface: session
// mutations and queries as JSON endpoints, recording upload and playback,
// and live event subscriptions over websocket frames.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/imogine/internal/broadcast"
	"github.com/louisbranch/imogine/internal/gesture"
	"github.com/louisbranch/imogine/internal/recording"
	sessionservice "github.com/louisbranch/imogine/internal/session/service"
	"github.com/louisbranch/imogine/internal/session/storage/sqlite"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Config defines the inputs for the imogine HTTP surface.
type Config struct {
	HTTPAddr          string
	DBPath            string
	RecordingsDir     string
	FFmpegBin         string
	GestureServiceURL string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the imogine HTTP process and owns its storage handles.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

// app bundles the wired services the handlers dispatch to.
type app struct {
	sessions *sessionservice.Service
	hub      *broadcast.Broadcaster
	ingestor *recording.Ingestor
	gateway  *recording.Gateway
	gesture  *gesture.Client
}

// NewServer opens storage and wires the full handler chain.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	blobs, err := recording.NewBlobStore(config.RecordingsDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open recordings store: %w", err)
	}

	hub := broadcast.New()
	application := &app{
		sessions: sessionservice.New(store, hub),
		hub:      hub,
		ingestor: recording.NewIngestor(blobs, store),
		gateway:  recording.NewGateway(blobs, recording.FFmpegTranscoder{Bin: config.FFmpegBin}),
		gesture:  gesture.NewClient(config.GestureServiceURL),
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(application),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("imogine server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close session store: %v", err)
	}
}

// newHandler builds the route table over a wired app.
func newHandler(a *app) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /api/sessions/start", a.handleStartSession)
	mux.HandleFunc("POST /api/sessions/{id}/end", a.handleEndSession)
	mux.HandleFunc("POST /api/sessions/{id}/effects", a.handleApplyEffect)
	mux.HandleFunc("GET /api/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/effects", a.handleListEffects)
	mux.HandleFunc("GET /api/sessions/active", a.handleActiveSession)
	mux.HandleFunc("GET /api/sessions", a.handleListSessions)

	mux.HandleFunc("POST /upload-recording", a.handleUploadRecording)
	mux.HandleFunc("GET /recordings/{name}", a.handleServeRecording)
	mux.HandleFunc("GET /api/audio/{name}", a.handlePlayableRecording)

	mux.HandleFunc("GET /api/gesture/health", a.handleGestureHealth)
	mux.HandleFunc("POST /api/gesture/process", a.handleGestureProcess)

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		a.handleWSConn(conn)
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}
