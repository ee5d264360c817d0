// Package harness runs YAML pipeline scenarios against a real ledger.
//
// A scenario registers sources and then executes steps in order: ingest a
// raw event, build a run, replay or explain a run, or tamper with a stored
// snapshot. Each step may carry an expect clause. Assertions inspect the
// final store state.
//
// Every scenario gets a fresh SQLite database, a stepping clock and
// sequential run ids (run-0001, run-0002, ...), so the step transcript is
// stable and can be compared against a golden file.
//
// Example scenario:
//
//	name: replay-immutability
//	description: a correction creates a new run and leaves the old one intact
//	sources:
//	  - user_id: alice
//	    id: scale-1
//	    provider: withings
//	    active: true
//	    allowed_kinds: {weight: [1]}
//	steps:
//	  - op: ingest
//	    user: alice
//	    key: w1
//	    event: {...}
//	  - op: build
//	    user: alice
//	    day: "2026-03-14"
//	    expect: {run: run-0001, inputs: 1}
//	assertions:
//	  - type: latest_run
//	    user: alice
//	    day: "2026-03-14"
//	    run: run-0001
package harness
