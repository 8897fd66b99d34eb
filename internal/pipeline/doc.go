// Package pipeline runs registered plugins over request and response
// contexts, and provides the webhook plugin for out-of-process extensions.
//
// # Dispatch
//
// Dispatch is a sequential fold in registration order. Each plugin receives
// a deep copy of the working context; a successful return replaces it.
//
//   - Before-request: a returned context with Cancel set ends the chain and
//     is the dispatch result.
//   - After-response: every plugin runs; there is no cancellation.
//
// A hook that returns an error or panics is logged, counted and published as
// a lifecycle event; the chain continues with the context from before the
// failed call. The only error a dispatch returns is the host's own context
// being done between plugins.
//
// # Webhook Contract
//
// Webhook plugins POST a JSON envelope and read back an action:
//
//	POST <webhook_url>
//	Content-Type: application/json
//	X-Copilot-Plugin-Phase: request | response
//
//	{
//	  "phase": "request" | "response",
//	  "plugin_id": "...",
//	  "request": { "prompt": "...", "metadata": {...} },     // request phase
//	  "response": { "response": "...", "metadata": {...} }   // response phase
//	}
//
// Response:
//
//	{
//	  "action": "allow" | "deny" | "mutate",
//	  "request": { ... },      // if mutating request
//	  "response": { ... },     // if mutating response
//	  "deny_reason": "..."     // if denying
//	}
//
// A request-phase deny cancels the request with deny_reason. Responses
// cannot be suppressed, so a response-phase deny is reported as a hook
// failure and the response passes through unchanged.
package pipeline
