package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v84/github"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"

	"github.com/schaermu/reposyncd/internal/activation"
	"github.com/schaermu/reposyncd/internal/config"
	"github.com/schaermu/reposyncd/internal/reconcile"
)

// maxPayloadBytes caps the webhook request body
const maxPayloadBytes = 1 << 20

// handledEventTypes are the GitHub events the server understands
var handledEventTypes = []string{"ping", "push", "repository"}

// Runner performs one reconciliation run
type Runner interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Server implements the webhook HTTP server
type Server struct {
	cfg         *config.Config
	runner      Runner
	logger      *slog.Logger
	secret      []byte
	syncMu      sync.Mutex      // guards runCtx, syncRunning and syncPending
	runCtx      context.Context // context of debounced runs, bound to Start
	syncRunning bool            // whether a run is currently in progress
	syncPending bool            // whether another run is needed after the current one
	debounce    *debouncer
}

// debouncer implements debouncing for webhook events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
	stopped  bool
}

// NewServer creates a new webhook server
func NewServer(cfg *config.Config, runner Runner, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("webhook secret file %s is empty", cfg.Serve.GitHubWebhookSecretFile)
	}

	return &Server{
		cfg:      cfg,
		runner:   runner,
		logger:   logger,
		secret:   secret,
		runCtx:   context.Background(),
		debounce: &debouncer{delay: 2 * time.Second},
	}, nil
}

// Handler returns the HTTP routes served by the webhook server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebhook)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "ok\n")
	})
	return mux
}

// Start starts the webhook HTTP server, performing an initial run first.
func (s *Server) Start(ctx context.Context) error {
	s.syncMu.Lock()
	s.runCtx = ctx
	s.syncMu.Unlock()

	s.logger.Info("performing initial reconciliation before starting webhook server")
	s.performSync(ctx)

	listener, err := s.listen(ctx)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		s.debounce.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// listen prefers a socket passed by systemd and falls back to the configured
// listen address.
func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	listener, err := activation.Listener(ctx, envconfig.OsLookuper())
	if err != nil {
		return nil, fmt.Errorf("socket activation: %w", err)
	}
	if listener != nil {
		s.logger.Info("using socket-activated listener", "addr", listener.Addr().String())
		return listener, nil
	}

	listener, err = net.Listen("tcp", s.cfg.Serve.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.Serve.ListenAddr, err)
	}
	return listener, nil
}

// handleWebhook handles incoming GitHub webhook requests
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	defer func() {
		_ = r.Body.Close()
	}()

	payload, err := github.ValidatePayload(r, s.secret)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.logger.Warn("rejecting oversized request", "limit", maxErr.Limit)
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Warn("rejecting request with invalid signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	eventType := github.WebHookType(r)
	s.logger.Info("received webhook", "event", eventType, "delivery", github.DeliveryID(r))

	if !s.isEventTypeAllowed(eventType) || !slices.Contains(handledEventTypes, eventType) {
		s.logger.Info("ignoring disallowed event type", "event", eventType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Event type not configured for sync\n")
		return
	}

	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		s.logger.Error("failed to parse webhook payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	var owner, repoName string
	switch e := event.(type) {
	case *github.PingEvent:
		s.logger.Info("webhook ping", "hook_id", e.GetHookID(), "zen", e.GetZen())
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "pong\n")
		return
	case *github.PushEvent:
		owner = e.GetRepo().GetOwner().GetLogin()
		if owner == "" {
			owner = e.GetRepo().GetOwner().GetName()
		}
		repoName = e.GetRepo().GetName()
		s.logger.Debug("push event", "repo", repoName, "ref", e.GetRef(), "commit", e.GetAfter())
	case *github.RepositoryEvent:
		owner = e.GetRepo().GetOwner().GetLogin()
		repoName = e.GetRepo().GetName()
		s.logger.Debug("repository event", "repo", repoName, "action", e.GetAction())
	}

	if !strings.EqualFold(owner, s.cfg.Remote.Account) {
		s.logger.Info("ignoring event for other account", "owner", owner, "account", s.cfg.Remote.Account)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Account not configured for sync\n")
		return
	}

	s.logger.Info("webhook accepted", "event", eventType, "repo", repoName)

	s.debounce.trigger(func() {
		ctx := s.runContext()
		if ctx.Err() != nil {
			s.logger.Info("server shutting down, dropping debounced reconciliation")
			return
		}
		s.performSync(ctx)
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Sync triggered\n")
}

// runContext returns the context debounced runs are bound to
func (s *Server) runContext() context.Context {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	return s.runCtx
}

// isEventTypeAllowed checks if the event type is in the allowed list
func (s *Server) isEventTypeAllowed(eventType string) bool {
	if len(s.cfg.Serve.AllowedEventTypes) == 0 {
		return true // no filter configured
	}
	return slices.Contains(s.cfg.Serve.AllowedEventTypes, eventType)
}

// performSync executes a reconciliation run with single-flight semantics.
// If a run is already in progress, at most one additional run is queued;
// further concurrent requests are dropped.
func (s *Server) performSync(ctx context.Context) {
	s.syncMu.Lock()
	if s.syncRunning {
		s.syncPending = true
		s.syncMu.Unlock()
		s.logger.Info("reconciliation already in progress, queuing pending re-run")
		return
	}
	s.syncRunning = true
	s.syncMu.Unlock()

	for {
		s.logger.Info("performing reconciliation")

		report, err := s.runner.Run(ctx)
		switch {
		case err != nil:
			s.logger.Error("reconciliation failed", "error", err)
		case report.Failed() > 0:
			s.logger.Warn("reconciliation completed with failures", "failed", report.Failed())
		default:
			s.logger.Info("reconciliation completed successfully")
		}

		s.syncMu.Lock()
		if !s.syncPending || ctx.Err() != nil {
			s.syncPending = false
			s.syncRunning = false
			s.syncMu.Unlock()
			break
		}
		s.syncPending = false
		s.syncMu.Unlock()

		s.logger.Info("re-running reconciliation due to pending request")
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a pending callback and ignores later triggers
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
