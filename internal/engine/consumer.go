package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkloop/checkloop/pkg/domain"
)

// consume is the persistent event loop. It reconnects through short
// outages; a lost stream must never leave a caller waiting forever, so
// after the attempts are spent every pending wait is rejected.
func (s *Service) consume(ctx context.Context, stream EventStream) {
	defer stream.Close()

	for {
		ev, err := stream.Next(ctx)
		if err == nil {
			s.handleEvent(ctx, ev)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		stream.Close()
		reconnected := false
		for attempt := 1; attempt <= s.maxReconnects; attempt++ {
			s.log.Warn("event stream lost, reconnecting",
				"attempt", attempt,
				"max_attempts", s.maxReconnects,
				"err", err)

			select {
			case <-time.After(s.reconnectBackoff):
			case <-ctx.Done():
				return
			}

			next, serr := s.api.Subscribe(ctx)
			if serr == nil {
				stream = next
				reconnected = true
				break
			}
			err = serr
		}
		if !reconnected {
			s.log.Error("event stream unrecoverable, rejecting pending waits", "err", err)
			s.rejectAll(domain.ErrEventLoopDisconnected)
			return
		}
	}
}

// handleEvent advances per-session state. Unknown types, unknown sessions,
// and malformed payloads are dropped silently; the stream must survive
// protocol drift.
func (s *Service) handleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventPermissionAsked:
		var p permissionAskedProps
		if json.Unmarshal(ev.Properties, &p) != nil || p.ID == "" {
			return
		}
		// Approval failures must not abort a running turn.
		if err := s.api.RespondPermission(ctx, p.SessionID, p.ID, "always"); err != nil {
			s.log.Warn("permission approval failed", "permission_id", p.ID, "err", err)
		}

	case EventMessageUpdated:
		var p messageUpdatedProps
		if json.Unmarshal(ev.Properties, &p) != nil || p.Role != "assistant" {
			return
		}
		s.mu.Lock()
		if sess, ok := s.sessions[p.SessionID]; ok && sess.currentMessageID != p.MessageID {
			sess.flush()
			sess.currentMessageID = p.MessageID
		}
		s.mu.Unlock()

	case EventMessagePartUpdated:
		var p messagePartProps
		if json.Unmarshal(ev.Properties, &p) != nil {
			return
		}
		switch p.Part.Type {
		case "text":
			s.mu.Lock()
			// Fragments for a stale message id are dropped to prevent
			// cross-talk when the engine reorders stream chunks.
			if sess, ok := s.sessions[p.SessionID]; ok && sess.currentMessageID == p.MessageID {
				sess.buf.WriteString(p.Part.Text)
			}
			s.mu.Unlock()
		case "tool":
			s.log.Debug("tool call", "session_id", p.SessionID, "tool", p.Part.Tool)
		}

	case EventSessionIdle:
		var p sessionIdleProps
		if json.Unmarshal(ev.Properties, &p) != nil {
			return
		}
		s.finalize(p.SessionID, nil)

	case EventSessionStatus:
		var p sessionStatusProps
		if json.Unmarshal(ev.Properties, &p) != nil {
			return
		}
		switch p.Status {
		case "idle":
			s.finalize(p.SessionID, nil)
		case "error", "disconnected":
			msg := p.Error
			if msg == "" {
				msg = p.Status
			}
			s.finalize(p.SessionID, fmt.Errorf("session failed: %s", msg))
		}
	}
}

// finalize flushes the session's buffer and settles its pending wait.
func (s *Service) finalize(sessionID string, err error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.flush()
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.settle(sessionID, err)
}
