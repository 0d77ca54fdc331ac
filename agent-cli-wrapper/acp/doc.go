// Package acp runs conversations against any Agent Client Protocol agent
// (Gemini CLI, Claude Code with --acp, Goose, ...) spawned as a child
// process and spoken to over newline-delimited JSON-RPC on stdio.
//
// Each Runner.Run spawns one agent, performs initialize and session/new
// (or session/load when resuming), and then sends one session/prompt per
// queued prompt. Streamed session/update notifications are normalized into
// agentstream messages:
//
//	agent_message_chunk  -> content_block_start/delta, consolidated at turn end
//	agent_thought_chunk  -> thinking deltas
//	tool_call            -> assistant tool_use, see Classify
//	tool_call_update     -> user tool_result once the status is terminal
//	session_info_update  -> may finalize the turn
//
// Permission requests from the agent are answered by a PermissionPolicy;
// the default picks the first affirmative option.
package acp
