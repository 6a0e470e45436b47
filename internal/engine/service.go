package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/checkloop/checkloop/internal/config"
	"github.com/checkloop/checkloop/pkg/domain"
)

const (
	lastMessageCap   = 100 << 10
	truncationMarker = "\n[truncated]"

	defaultReconnectBackoff = time.Second
	maxReconnectAttempts    = 3
)

type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
	stateDisposed
)

// sessionState accumulates streamed message fragments for one session.
type sessionState struct {
	currentMessageID string
	buf              strings.Builder
	lastComplete     string
}

func (ss *sessionState) flush() {
	if ss.buf.Len() > 0 {
		ss.lastComplete = ss.buf.String()
		ss.buf.Reset()
	}
}

// pendingCompletion is the single outstanding wait for a session. The
// channel is buffered so the event consumer never blocks on a caller that
// already gave up.
type pendingCompletion struct {
	done chan error
}

// initAttempt is the outcome of one initialization attempt. err is written
// before done is closed, so collapsed waiters read the outcome of the
// attempt they joined, never a later retry's.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Options carries the initialization inputs: optional config and credential
// files plus a model override layered on top.
type Options struct {
	ConfigPath      string
	CredentialsPath string
	ModelOverride   string
}

// Service owns the connection to the reasoning engine and all per-session
// state. The two maps below are mutated only under mu: by the event
// consumer goroutine and by the operation registering or abandoning a wait.
type Service struct {
	log *slog.Logger
	api API

	reconnectBackoff time.Duration
	maxReconnects    int

	mu             sync.Mutex
	state          state
	init           *initAttempt
	settings       config.Settings
	sessions       map[string]*sessionState
	pending        map[string]*pendingCompletion
	consumerCancel context.CancelFunc
	warnedTruncate bool
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithReconnectBackoff sets the delay between event stream reconnect
// attempts.
func WithReconnectBackoff(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.reconnectBackoff = d
	}
}

// NewService creates an uninitialized service over api.
func NewService(log *slog.Logger, api API, opts ...ServiceOption) *Service {
	s := &Service{
		log:              log,
		api:              api,
		reconnectBackoff: defaultReconnectBackoff,
		maxReconnects:    maxReconnectAttempts,
		sessions:         make(map[string]*sessionState),
		pending:          make(map[string]*pendingCompletion),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads configuration, opens the event stream, and starts the
// consumer. Concurrent callers collapse onto the one in-flight attempt; a
// failed attempt resets to uninitialized so a later retry is not poisoned.
func (s *Service) Initialize(ctx context.Context, opts Options) error {
	s.mu.Lock()
	switch s.state {
	case stateDisposed:
		s.mu.Unlock()
		return domain.ErrDisposed
	case stateReady:
		s.mu.Unlock()
		return nil
	case stateInitializing:
		attempt := s.init
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = stateInitializing
	attempt := &initAttempt{done: make(chan struct{})}
	s.init = attempt
	s.mu.Unlock()

	err := s.connect(ctx, opts)

	s.mu.Lock()
	attempt.err = err
	if err != nil {
		s.state = stateUninitialized
	} else {
		s.state = stateReady
	}
	close(attempt.done)
	s.mu.Unlock()
	return err
}

func (s *Service) connect(ctx context.Context, opts Options) error {
	settings, err := config.Load(opts.ConfigPath, opts.CredentialsPath, opts.ModelOverride)
	if err != nil {
		return err
	}

	stream, err := s.api.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("connecting to engine: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.settings = settings
	s.consumerCancel = cancel
	s.mu.Unlock()

	go s.consume(consumerCtx, stream)
	return nil
}

// Settings returns the merged configuration loaded at initialization.
func (s *Service) Settings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// RunSession creates a session, submits the prompt, and waits for the
// engine to go idle. The returned session carries the accumulated last
// message.
func (s *Service) RunSession(ctx context.Context, prompt string, timeout time.Duration) (domain.Session, error) {
	if err := s.ensureReady(); err != nil {
		return domain.Session{}, err
	}

	id, err := s.api.CreateSession(ctx)
	if err != nil {
		return domain.Session{}, err
	}

	s.mu.Lock()
	s.sessions[id] = &sessionState{}
	s.mu.Unlock()

	return s.submitAndWait(ctx, id, prompt, timeout)
}

// SendFollowUp resets the session's message buffer and submits another
// prompt to the same session.
func (s *Service) SendFollowUp(ctx context.Context, sessionID, message string, timeout time.Duration) (domain.Session, error) {
	if err := s.ensureReady(); err != nil {
		return domain.Session{}, err
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.Session{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if _, busy := s.pending[sessionID]; busy {
		s.mu.Unlock()
		return domain.Session{}, fmt.Errorf("%w: session %s", domain.ErrWaitInProgress, sessionID)
	}
	sess.currentMessageID = ""
	sess.buf.Reset()
	sess.lastComplete = ""
	s.mu.Unlock()

	return s.submitAndWait(ctx, sessionID, capMessage(message), timeout)
}

func (s *Service) submitAndWait(ctx context.Context, sessionID, text string, timeout time.Duration) (domain.Session, error) {
	pend, err := s.registerPending(sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	if err := s.api.SendPrompt(ctx, sessionID, text); err != nil {
		s.abandonPending(sessionID, pend)
		return domain.Session{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-pend.done:
		if err != nil {
			return domain.Session{}, err
		}
	case <-timer.C:
		s.abandonPending(sessionID, pend)
		// When the deadline and a cancellation land together, report the
		// cancellation; select would otherwise pick a branch at random.
		if ctx.Err() != nil {
			return domain.Session{}, domain.ErrAborted
		}
		return domain.Session{}, &domain.TimeoutError{Op: "session wait", After: timeout}
	case <-ctx.Done():
		s.abandonPending(sessionID, pend)
		return domain.Session{}, domain.ErrAborted
	}

	last, err := s.LastMessage(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{ID: sessionID, LastMessage: last}, nil
}

// ListModels flattens the provider catalog into a flat model list.
func (s *Service) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	providers, err := s.api.ListProviders(ctx)
	if err != nil {
		return nil, err
	}

	var models []domain.ModelInfo
	for _, p := range providers {
		for _, m := range p.Models {
			models = append(models, domain.ModelInfo{
				ID:       m.ID,
				Name:     m.Name,
				Provider: p.ID,
			})
		}
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("engine returned no models")
	}
	return models, nil
}

// LastMessage returns the session's accumulated complete message, truncated
// past 100 KB.
func (s *Service) LastMessage(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	msg := sess.lastComplete
	if len(msg) > lastMessageCap {
		if !s.warnedTruncate {
			s.warnedTruncate = true
			s.log.Warn("last message exceeds cap, truncating", "session_id", sessionID, "bytes", len(msg))
		}
		msg = msg[:lastMessageCap] + truncationMarker
	}
	return msg, nil
}

// Dispose tears the service down. Every pending wait is rejected, all
// session state dropped, and the event consumer stopped. Idempotent.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.state == stateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = stateDisposed
	cancel := s.consumerCancel
	s.consumerCancel = nil
	for id, pend := range s.pending {
		pend.done <- domain.ErrDisposed
		delete(s.pending, id)
	}
	s.sessions = make(map[string]*sessionState)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.api.Close(); err != nil {
		s.log.Warn("closing engine connection", "err", err)
	}
}

func (s *Service) ensureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateDisposed:
		return domain.ErrDisposed
	case stateReady:
		return nil
	default:
		return domain.ErrNotInitialized
	}
}

// registerPending installs the single allowed wait for a session.
func (s *Service) registerPending(sessionID string) (*pendingCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateDisposed {
		return nil, domain.ErrDisposed
	}
	if _, exists := s.pending[sessionID]; exists {
		return nil, fmt.Errorf("%w: session %s", domain.ErrWaitInProgress, sessionID)
	}
	pend := &pendingCompletion{done: make(chan error, 1)}
	s.pending[sessionID] = pend
	return pend, nil
}

// abandonPending removes a wait the caller is no longer listening on.
func (s *Service) abandonPending(sessionID string, pend *pendingCompletion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[sessionID] == pend {
		delete(s.pending, sessionID)
	}
}

// settle resolves or rejects the pending wait for a session, if any.
func (s *Service) settle(sessionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pend, ok := s.pending[sessionID]
	if !ok {
		return
	}
	delete(s.pending, sessionID)
	pend.done <- err
}

func (s *Service) rejectAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, pend := range s.pending {
		pend.done <- err
		delete(s.pending, id)
	}
}

func capMessage(msg string) string {
	if len(msg) > lastMessageCap {
		return msg[:lastMessageCap] + truncationMarker
	}
	return msg
}
