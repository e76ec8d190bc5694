// Package domain models the shared-session records exchanged through the
// update log and presence registry.
//
// Sessions scope everything: every update record and presence entry belongs to
// exactly one session, and cross-session leakage is a correctness violation.
//
// The package holds:
//   - session identifier generation and validation,
//   - the user record tracked by the presence registry,
//   - the typed update record union and its intake validation.
//
// The update log is untrusted input from a consumer's perspective (other
// clients may be buggy or speak an older protocol revision), so validation
// lives here at the boundary rather than being assumed by callers.
package domain
