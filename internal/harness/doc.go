// Package harness runs recovery scenarios described in YAML.
//
// A scenario records transitions into an in-memory log, optionally plants
// corrupt entries, replays everything through a recording executor, and
// checks the outcome. Each scenario runs against a fresh log with a
// deterministic clock and record ids, so the command trace is stable enough
// for golden-file comparison.
//
// # Scenario Format
//
//	name: fault_isolation
//	description: "A failing entity does not stop the others"
//	tool: br
//	fail:
//	  - "reopen bd-2"
//	transitions:
//	  - op: create
//	    entity: bd-1
//	    payload: { title: "Fix login", priority: 1 }
//	  - op: reopen
//	    entity: bd-2
//	raw:
//	  - path: beads/bd-3/garbage
//	    data: "not json"
//	expect:
//	  success: true
//	  replayed: 1
//	  failed: [bd-2]
//	  discarded: { parse: 1 }
//
// Commands whose shell rendering contains any string in fail return an
// error from the executor.
package harness
