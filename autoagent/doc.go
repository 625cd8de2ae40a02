// Package autoagent runs the bounded analyze, execute, supervise loop that
// drives LLM-backed roles toward an open-ended user task and streams
// progress events while it works.
//
// # Flow
//
// A run moves through a fixed state table:
//
//	INIT -> ANALYZE -> EXECUTE -> SUPERVISE -> ANALYZE ... -> SUMMARIZE -> DONE
//
// ANALYZE and SUPERVISE both jump to SUMMARIZE as soon as the task is
// completed or the step budget is spent. A fatal error (ConfigurationError or
// FatalCallError) skips SUMMARIZE and ends the stream with a single error
// event.
//
// # Collaborators
//
// The package does not build reasoning clients or load configuration itself.
// Hosts pass in:
//
//   - an AgentClientRegistry that resolves role handles and performs calls
//   - a FlowConfigRepository that maps an agent to its per-role client IDs
//   - a Sink per session that receives ProgressEvents in order
//
// Engine wraps an Orchestrator with concurrency limits, session timeouts and
// session bookkeeping for hosts that serve many runs at once.
package autoagent
