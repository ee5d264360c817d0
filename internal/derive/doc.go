// Package derive builds derived runs: one immutable computation over a
// user's current canonical facts for a day.
//
// A build reads the facts, hands them to a RuleEngine, serializes and
// fingerprints every artifact it returns, and commits the run together with
// its snapshots and the ledger pointer in a single transaction. Every build
// creates a new run, even when its outputs equal the previous run's. Nothing
// is persisted when any step fails; the failure goes to failure memory
// instead.
//
// The rule content is incidental. SummaryEngine is a small deterministic
// engine that makes the pipeline runnable end to end.
package derive
