// Package api defines the core types for the codegate approval-gated
// execution service.
//
// This package provides the data model shared by every other package:
// sessions and their messages, code proposals, execution outcomes and
// metrics, agent steps, chart data, the session state machine, error
// types, and ID generation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O. All types serialize to the JSON returned by the HTTP
// and MCP surfaces.
//
// Core types:
//   - [Session]: One conversation with its own state, messages and pending proposal
//   - [Proposal]: Code waiting for a human decision
//   - [ExecutionOutcome]: Tagged result of one execution (success, runtime_error, timeout)
//   - [ExecutionMetrics]: Timing of one execution
//   - [AgentStep]: One reasoning-loop event (thought, action, observation, final_answer)
//   - [APIError]: Structured error with type, code, param, and message
package api
