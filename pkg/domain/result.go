package domain

// Session is a snapshot of one reasoning-engine conversation: the
// engine-assigned identifier and the last complete assistant message.
type Session struct {
	ID          string `json:"session_id"`
	LastMessage string `json:"last_message"`
}

// RunResult is the final outcome of a validated run, printed to the caller.
type RunResult struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"session_id,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ModelInfo is one entry of the flattened provider->model catalog.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}
