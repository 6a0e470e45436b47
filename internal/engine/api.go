// Package engine manages sessions against the external reasoning engine:
// session creation, prompt submission, event stream consumption, message
// accumulation, permission approval, and reconnection.
package engine

import "context"

// API is the transport surface of the reasoning engine. The HTTP/websocket
// client implements it; tests substitute scripted fakes.
type API interface {
	CreateSession(ctx context.Context) (string, error)
	// SendPrompt submits text to a session. Completion is asynchronous and
	// arrives on the event stream, not in this response.
	SendPrompt(ctx context.Context, sessionID, text string) error
	RespondPermission(ctx context.Context, sessionID, permissionID, response string) error
	ListProviders(ctx context.Context) ([]Provider, error)
	Subscribe(ctx context.Context) (EventStream, error)
	Close() error
}

// EventStream yields engine events until the stream fails or is closed.
type EventStream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Provider is one upstream model provider and its catalog.
type Provider struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Models []Model `json:"models"`
}

// Model is a single selectable model.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
