package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/docrelay/internal/config"
	"github.com/rickgao/docrelay/internal/journal"
	"github.com/rickgao/docrelay/internal/metrics"
	"github.com/rickgao/docrelay/internal/protocol"
	"github.com/rickgao/docrelay/internal/version"
)

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records relay metrics and serves g on the metrics path.
func WithMetrics(m *metrics.RelayMetrics, g prometheus.Gatherer, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
		s.metricsPath = path
	}
}

// WithRecorder journals routed envelopes.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// Server accepts peers and routes their envelopes.
type Server struct {
	cfg         config.RelayConfig
	logger      *slog.Logger
	registry    *Registry
	metrics     *metrics.RelayMetrics
	gatherer    prometheus.Gatherer
	metricsPath string
	recorder    Recorder
	upgrader    websocket.Upgrader
	engine      *gin.Engine
	started     time.Time

	mu      sync.Mutex
	peers   map[string]*peer
	closing bool
	wg      sync.WaitGroup

	httpServer *http.Server
}

// NewServer creates a relay server. Zero config fields fall back to defaults.
func NewServer(cfg config.RelayConfig, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	applyRelayDefaults(&cfg)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		peers:   make(map[string]*peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(s.metrics)
	s.engine = s.routes()
	return s
}

func applyRelayDefaults(cfg *config.RelayConfig) {
	if cfg.Path == "" {
		cfg.Path = config.DefaultPath
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = config.DefaultRelayPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = config.DefaultPongTimeout
	}
	if cfg.PeerBufferSize <= 0 {
		cfg.PeerBufferSize = config.DefaultPeerBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = config.DefaultMaxMessageSize
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))

	r.GET(s.cfg.Path, s.handleWebSocket)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).Round(time.Second).String(),
			"peers":    s.PeerCount(),
			"channels": s.registry.Len(),
			"version":  version.Version,
		})
	})

	r.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"channels": s.registry.Channels(),
		})
	})

	if s.gatherer != nil {
		path := s.metricsPath
		if path == "" {
			path = config.DefaultMetricsPath
		}
		r.GET(path, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

// requestLogger logs plain HTTP requests. Websocket upgrades are logged by
// the peer lifecycle instead.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.IsWebsocket() {
			return
		}
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Handler returns the HTTP handler serving the websocket and operator routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Registry returns the channel registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("relay listening", "addr", ln.Addr().String(), "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and disconnects every peer.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	srv := s.httpServer
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	for _, p := range peers {
		p.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("relay stopped")
	case <-ctx.Done():
		s.logger.Warn("relay shutdown timed out", "peers", len(peers))
		return ctx.Err()
	}
	return err
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", c.Request.RemoteAddr)
		return
	}

	id := protocol.NewID()
	p := newPeer(id, conn, s.cfg.PeerBufferSize, s.logger.With("peer", id))
	p.writeTimeout = s.cfg.WriteTimeout
	p.pingInterval = s.cfg.PingInterval
	p.pongTimeout = s.cfg.PongTimeout

	// Registration and wg.Add share the lock with Shutdown's snapshot, so a
	// peer is either closed by Shutdown or never started.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		s.logger.Debug("rejecting peer during shutdown", "remote", c.Request.RemoteAddr)
		return
	}
	s.peers[id] = p
	s.wg.Add(2)
	s.mu.Unlock()
	s.metrics.PeerConnected()
	s.logger.Info("peer connected", "peer", id, "remote", c.Request.RemoteAddr)

	go func() {
		defer s.wg.Done()
		p.writePump()
	}()
	go func() {
		defer s.wg.Done()
		p.readPump(s.cfg.MaxMessageSize, s.handleFrame)
		s.removePeer(p)
	}()
}

func (s *Server) removePeer(p *peer) {
	channel, joined := s.registry.Leave(p)

	s.mu.Lock()
	delete(s.peers, p.id)
	s.mu.Unlock()

	if p.overflow.Load() {
		s.metrics.Dropped("peer_overflow")
	}
	s.metrics.PeerDisconnected()
	s.logger.Info("peer disconnected", "peer", p.id, "channel", channel, "joined", joined)
}

// handleFrame processes one inbound frame from p.
func (s *Server) handleFrame(p *peer, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.metrics.ProtocolError("malformed")
		p.logger.Warn("dropping malformed envelope", "error", err, "size", len(data))
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		s.handleJoin(p, env)
	case protocol.TypeMessage, protocol.TypeProgress:
		s.handleRoute(p, env, data)
	default:
		s.metrics.ProtocolError("unsupported_type")
		p.logger.Warn("unsupported envelope type", "type", env.Type, "id", env.ID)
		s.reply(p, protocol.NewError(env.ID, fmt.Sprintf("Unsupported message type: %s", env.Type)))
	}
}

func (s *Server) handleJoin(p *peer, env *protocol.Envelope) {
	if env.Channel == "" {
		s.metrics.ProtocolError("missing_channel")
		s.reply(p, protocol.NewError(env.ID, MsgChannelRequired))
		return
	}

	previous, err := s.registry.Join(p, env.Channel)
	if err != nil {
		s.reply(p, protocol.NewError(env.ID, err.Error()))
		return
	}
	p.logger.Info("peer joined channel", "channel", env.Channel, "previous", previous)

	ack, err := protocol.NewSystem(env.Channel, protocol.JoinResult{ID: env.ID, Result: JoinedText(env.Channel)})
	if err == nil {
		s.reply(p, ack)
	}
	if previous == env.Channel {
		return
	}

	notice, err := protocol.NewSystem(env.Channel, MsgPeerJoined)
	if err != nil {
		return
	}
	if data, err := protocol.Encode(notice); err == nil {
		s.registry.Broadcast(env.Channel, p, data)
	}
}

func (s *Server) handleRoute(p *peer, env *protocol.Envelope, data []byte) {
	channel, ok := s.registry.ChannelOf(p)
	if !ok || (env.Channel != "" && env.Channel != channel) {
		s.metrics.ProtocolError("not_joined")
		s.reply(p, protocol.NewError(env.ID, MsgJoinFirst))
		return
	}

	delivered, err := s.registry.Route(p, data)
	if err != nil {
		s.reply(p, protocol.NewError(env.ID, MsgJoinFirst))
		return
	}
	s.metrics.Routed(env.Type, delivered)
	p.logger.Debug("routed envelope", "type", env.Type, "id", env.ID, "channel", channel, "delivered", delivered)

	if s.recorder != nil {
		s.recorder.Record(journalEntry(p.id, channel, env, len(data), delivered))
	}
}

func journalEntry(peerID, channel string, env *protocol.Envelope, size, delivered int) journal.Entry {
	e := journal.Entry{
		EnvelopeID: env.ID,
		Channel:    channel,
		Type:       env.Type,
		PeerID:     peerID,
		Delivered:  delivered,
		Size:       size,
		RoutedAt:   time.Now(),
	}

	switch env.Type {
	case protocol.TypeMessage:
		if msg, err := env.Command(); err == nil {
			e.EnvelopeID = msg.ID
			e.Command = msg.Command
			switch {
			case msg.Error != "":
				e.Status = "error"
			case len(msg.Result) > 0:
				e.Status = "result"
			default:
				e.Status = "request"
			}
		}
	case protocol.TypeProgress:
		if data, err := env.Progress(); err == nil {
			e.EnvelopeID = data.CommandID
			e.Status = string(data.Status)
		}
	}
	return e
}

func (s *Server) reply(p *peer, env *protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		s.logger.Error("encode reply failed", "error", err)
		return
	}
	p.Enqueue(data)
}
