// Package relay provides a reusable Relay server that can be embedded
// in other binaries (e.g. integration harnesses).
package relay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steeplecast/steeplecast/internal/logging"
	"github.com/steeplecast/steeplecast/internal/metrics"
	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/alert"
	"github.com/steeplecast/steeplecast/internal/relay/api"
	"github.com/steeplecast/steeplecast/internal/relay/bus"
	"github.com/steeplecast/steeplecast/internal/relay/config"
	"github.com/steeplecast/steeplecast/internal/relay/db"
	"github.com/steeplecast/steeplecast/internal/relay/dispatch"
	"github.com/steeplecast/steeplecast/internal/relay/nlparse"
	"github.com/steeplecast/steeplecast/internal/relay/oncall"
	"github.com/steeplecast/steeplecast/internal/relay/ratelimit"
	"github.com/steeplecast/steeplecast/internal/relay/schedule"
	"github.com/steeplecast/steeplecast/internal/relay/sessionmgr"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/relay/telegram"
	"github.com/steeplecast/steeplecast/internal/relay/token"
	"github.com/steeplecast/steeplecast/internal/relay/wsapi"
)

// Server is a reusable Relay instance.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	sqlDB      *sql.DB
	server     *http.Server
	sessions   *sessionmgr.Manager
	pending    *sessionmgr.PendingCommands
	queue      *sessionmgr.OfflineQueue
	dispatcher *dispatch.Dispatcher
	pipeline   *alert.Pipeline
	engine     *schedule.Engine
	prechecker *schedule.Prechecker
	rotation   *oncall.Service
	bot        *telegram.Bot
	eventBus   *bus.Bus
	shutdownCh chan struct{}
}

// snapshotReader adapts the session manager to the bot's Snapshots
// interface.
type snapshotReader struct {
	sessions *sessionmgr.Manager
}

func (r snapshotReader) Snapshot(venueID string) *proto.Snapshot {
	if sess := r.sessions.Get(venueID); sess != nil {
		return sess.Snapshot()
	}
	return nil
}

func (r snapshotReader) IsOnline(venueID string) bool {
	return r.sessions.IsOnline(venueID)
}

// NewServer creates a Relay. It opens the database, runs migrations
// and wires all components. Call Serve() to start listening.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	sqlDB, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	st := store.New(sqlDB)

	signer, err := token.NewSigner([]byte(cfg.SigningKey))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("token signer: %w", err)
	}

	shutdownCh := make(chan struct{})
	eventBus := bus.New()
	sessions := sessionmgr.New()
	pending := sessionmgr.NewPendingCommands()
	queue := sessionmgr.NewOfflineQueue()
	dispatcher := dispatch.New(sessions, pending, queue, ratelimit.New())
	engine := schedule.New(st)
	rotation := oncall.New(st)

	s := &Server{
		cfg:        cfg,
		store:      st,
		sqlDB:      sqlDB,
		sessions:   sessions,
		pending:    pending,
		queue:      queue,
		dispatcher: dispatcher,
		engine:     engine,
		rotation:   rotation,
		eventBus:   eventBus,
		shutdownCh: shutdownCh,
	}

	// Alert notifications go through the Telegram bot when configured,
	// otherwise to the log.
	var notifier alert.Notifier = logNotifier{}
	if cfg.TelegramToken != "" {
		pipelineRef := &pipelineHolder{} // broken cycle: bot needs acks, pipeline needs bot
		bot, err := telegram.New(telegram.Config{
			Token:       cfg.TelegramToken,
			AdminChatID: cfg.AdminChatID,
			Store:       st,
			Dispatcher:  dispatcher,
			Acks:        pipelineRef,
			Rotation:    rotation,
			Snapshots:   snapshotReader{sessions: sessions},
			Parse: func(text string) (string, map[string]any, bool) {
				p := nlparse.Parse(text)
				if p == nil {
					return "", nil, false
				}
				return p.Command, p.Params, true
			},
		})
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		s.bot = bot
		notifier = bot
		s.pipeline = alert.New(st, engine, dispatcher, notifier)
		pipelineRef.p = s.pipeline
	} else {
		s.pipeline = alert.New(st, engine, dispatcher, notifier)
	}

	// Schedule edges feed the alert pipeline; the pre-service checker
	// reuses the bot's venue notification path.
	engine.OnClose(func(venueID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.pipeline.ServiceEnded(ctx, venueID)
	})
	s.prechecker = schedule.NewPrechecker(st, dispatcher, func(ctx context.Context, venueID, text string) {
		notifier.NotifyVenue(ctx, venueID, text)
	})

	wsHandler := &wsapi.Handler{
		Store:      st,
		Signer:     signer,
		Sessions:   sessions,
		Pending:    pending,
		Dispatcher: dispatcher,
		Alerts:     s.pipeline,
		Bus:        eventBus,
		APIKey:     cfg.APIKey,
		ShutdownCh: shutdownCh,
	}

	apiHandler := &api.Handler{
		Store:      st,
		Signer:     signer,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Alerts:     s.pipeline,
		OnCall:     rotation,
		Schedule:   engine,
		Bus:        eventBus,
		APIKey:     cfg.APIKey,
		StartedAt:  time.Now(),
		Relayed:     wsHandler.MessagesRelayed,
		Controllers: wsHandler.AdminConnections,
	}

	mux := http.NewServeMux()
	apiHandler.Routes(mux)
	mux.Handle("/church", wsHandler.AgentHandler())
	mux.Handle("/controller", wsHandler.AdminHandler())
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Handler:           logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// logNotifier is the fallback when no bot credential is configured.
type logNotifier struct{}

func (logNotifier) NotifyVenue(_ context.Context, venueID, text string) {
	slog.Info("alert notification (no bot configured)", "venue_id", venueID, "text", text)
}

func (logNotifier) NotifyAdmin(_ context.Context, text string) {
	slog.Warn("admin notification (no bot configured)", "text", text)
}

// pipelineHolder defers the alert pipeline reference so the bot and
// pipeline can reference each other without a construction cycle.
type pipelineHolder struct {
	p *alert.Pipeline
}

func (h *pipelineHolder) AcknowledgeByPrefix(ctx context.Context, prefix, responder string) (*store.Alert, error) {
	return h.p.AcknowledgeByPrefix(ctx, prefix, responder)
}

// Store exposes the relay's store for embedding binaries.
func (s *Server) Store() *store.Store { return s.store }

// Serve starts the relay and blocks until ctx is cancelled, then
// performs graceful shutdown: stop accepting, drain correlation
// waiters, close agent sockets, checkpoint and close the DB. The
// whole sequence is bounded by five seconds.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		_ = s.sqlDB.Close()
		return fmt.Errorf("listen: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go s.engine.Run(bgCtx)
	go s.prechecker.Run(bgCtx)
	go s.sweepLoop(bgCtx)
	if s.bot != nil {
		go s.bot.Run(bgCtx)
		go s.bot.WatchBus(bgCtx, s.eventBus)
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("relay shutting down...")

		// 1. Reject new connections and commands.
		close(s.shutdownCh)

		// 2. Drain in-flight correlation waiters with shutdown errors.
		s.pending.Shutdown()
		s.pipeline.Shutdown()

		// 3. Close agent sockets.
		s.sessions.CloseAll("relay shutting down")

		// 4. Drain in-flight HTTP requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	slog.Info("relay listening", "addr", s.cfg.Addr)
	if err := s.server.Serve(ln); err != http.ErrServerClosed {
		_ = s.sqlDB.Close()
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone

	// Checkpoint WAL into the main DB file before closing.
	if _, err := s.sqlDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("WAL checkpoint failed", "error", err)
	}
	_ = s.sqlDB.Close()
	return nil
}

// sweepLoop runs the periodic janitors: expired offline-queue entries
// every 10 seconds, guest tokens and swap requests daily.
func (s *Server) sweepLoop(ctx context.Context) {
	queueTicker := time.NewTicker(10 * time.Second)
	defer queueTicker.Stop()
	dailyTicker := time.NewTicker(24 * time.Hour)
	defer dailyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-queueTicker.C:
			s.queue.Sweep()
		case <-dailyTicker.C:
			if n, err := s.rotation.SweepGuestTokens(ctx); err == nil && n > 0 {
				slog.Info("swept expired guest tokens", "count", n)
			}
			s.rotation.Swaps().Sweep(time.Now())
		}
	}
}
