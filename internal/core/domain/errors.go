package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned when a plugin id is already registered.
var ErrDuplicateID = errors.New("plugin id already registered")

// ErrMissingLocation marks a discovery location that does not exist.
// Discovery treats it as an empty result, not a failure.
var ErrMissingLocation = errors.New("plugin location does not exist")

// ErrInvalidPlugin is returned when a plugin is nil, has an empty id, or
// fails to report its Info.
var ErrInvalidPlugin = errors.New("invalid plugin")

// ErrRegistrationInProgress is returned while another caller is still
// initializing a plugin with the same id. Unlike ErrDuplicateID the id may
// end up unregistered if that Initialize fails.
var ErrRegistrationInProgress = errors.New("plugin registration in progress")

// ErrTornDown is returned by a registration whose Initialize overlapped a
// teardown. The plugin has been shut down and was not inserted.
var ErrTornDown = errors.New("registry torn down during registration")

// ErrClosed is returned when registering into a closed registry or engine.
var ErrClosed = errors.New("plugin registry is closed")

// InitError wraps a failure of a plugin's Initialize.
type InitError struct {
	PluginID string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize plugin %s: %v", e.PluginID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Hook names used in HookError.
const (
	HookInitialize    = "initialize"
	HookBeforeRequest = "before_request"
	HookAfterResponse = "after_response"
	HookShutdown      = "shutdown"
)

// HookError wraps a failure raised by plugin code during a hook call.
type HookError struct {
	PluginID string
	Hook     string
	Err      error
	// Panic is set when the failure was a recovered panic.
	Panic bool
}

func (e *HookError) Error() string {
	if e.Panic {
		return fmt.Sprintf("plugin %s panicked in %s: %v", e.PluginID, e.Hook, e.Err)
	}
	return fmt.Sprintf("plugin %s failed in %s: %v", e.PluginID, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// DiscoveryError describes a module that could not be loaded.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("load plugin module %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// IsHookFailure reports whether err is, or wraps, a HookError.
func IsHookFailure(err error) bool {
	var he *HookError
	return errors.As(err, &he)
}

// PanicError carries a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Guard runs fn and converts a panic into a *PanicError.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

// NewHookError wraps err for pluginID and hook, flagging recovered panics.
func NewHookError(pluginID, hook string, err error) *HookError {
	var pe *PanicError
	return &HookError{PluginID: pluginID, Hook: hook, Err: err, Panic: errors.As(err, &pe)}
}
