// Package agentstream defines the backend-neutral vocabulary shared by the
// agent adapters (claude, acp) and everything downstream of them.
//
// # Messages
//
// Every adapter normalizes its native wire format into Message, a closed
// set of six variants:
//
//   - user_prompt: what the user asked, recorded before the backend sees it
//   - system_init: the backend handshake, carrying the resume id
//   - assistant: text, thinking and tool_use blocks
//   - user: tool_result blocks
//   - result: the terminal outcome of a turn
//   - stream_event: content_block_start, content_block_delta, content_block_stop
//
// A Message is self-describing: persisting or rendering one never needs to
// know which backend produced it. Backend field names stay inside the
// adapter packages.
//
// # Runners
//
// A Runner starts a backend conversation and returns a Handle right away;
// prompts sent before the backend finished initializing are queued. Each
// adapter feeds prompts through a Chain so they reach the backend in
// submission order, and emits through an Emitter so nothing is delivered
// after Abort.
package agentstream
