// Package domain holds the engine's core types: lifecycle events and the
// error taxonomy shared by the registry, dispatcher and loader.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleEvent records something notable that happened to a plugin.
// Events are published to an event sink for later inspection; they are an
// audit trail and never feed back into dispatch.
type LifecycleEvent struct {
	ID        string             `json:"id"`
	Type      LifecycleEventType `json:"type"`
	PluginID  string             `json:"plugin_id,omitempty"`
	Source    string             `json:"source,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	EventPluginRegistered     LifecycleEventType = "plugin.registered"
	EventPluginDuplicate      LifecycleEventType = "plugin.duplicate"
	EventPluginInitFailed     LifecycleEventType = "plugin.init_failed"
	EventPluginHookFailed     LifecycleEventType = "plugin.hook_failed"
	EventPluginShutdown       LifecycleEventType = "plugin.shutdown"
	EventPluginShutdownFailed LifecycleEventType = "plugin.shutdown_failed"
	EventRequestCancelled     LifecycleEventType = "request.cancelled"
	EventDiscoveryFailed      LifecycleEventType = "discovery.failed"
)

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(t LifecycleEventType, pluginID, source, message string) *LifecycleEvent {
	return &LifecycleEvent{
		ID:        uuid.NewString(),
		Type:      t,
		PluginID:  pluginID,
		Source:    source,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
