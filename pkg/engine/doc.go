// Package engine implements the codegate operations. It sequences a task
// through the approval gate: the reasoning loop proposes code, a human
// approves or cancels it, the harness runs approved code and the outcome
// is recorded on the session, streamed as an observation step and
// archived. Optional collaborators (archive, syntax checker, step
// publisher) use nil-safe composition.
package engine
