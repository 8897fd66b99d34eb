package plugin

import "time"

// RequestContext carries an outgoing prompt through the before-request chain.
type RequestContext struct {
	Prompt       string   `json:"prompt"`
	Metadata     Metadata `json:"metadata,omitempty"`
	Cancel       bool     `json:"cancel,omitempty"`
	CancelReason string   `json:"cancel_reason,omitempty"`
}

// NewRequest returns a request context for prompt with empty metadata.
func NewRequest(prompt string) RequestContext {
	return RequestContext{Prompt: prompt, Metadata: Metadata{}}
}

// Clone returns a deep copy of r. The copy always has non-nil Metadata.
func (r RequestContext) Clone() RequestContext {
	r.Metadata = r.Metadata.Clone()
	return r
}

// Cancelled returns a copy of r with Cancel set and the given reason.
func (r RequestContext) Cancelled(reason string) RequestContext {
	r.Cancel = true
	r.CancelReason = reason
	return r
}

// ResponseContext carries an assistant response through the after-response
// chain. Error is empty when the backend reported no error.
type ResponseContext struct {
	Response string        `json:"response"`
	Metadata Metadata      `json:"metadata,omitempty"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// NewResponse returns a successful response context.
func NewResponse(text string, d time.Duration) ResponseContext {
	return ResponseContext{Response: text, Metadata: Metadata{}, Duration: d, Success: true}
}

// Clone returns a deep copy of r. The copy always has non-nil Metadata.
func (r ResponseContext) Clone() ResponseContext {
	r.Metadata = r.Metadata.Clone()
	return r
}
