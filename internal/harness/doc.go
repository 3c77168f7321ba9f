// Package harness runs scripted auction scenarios against the real state
// machine, work pool and randomness service on a fake clock.
//
// A scenario is a YAML file: the auction and pool parameters, a list of steps
// (advance the clock, request or resolve randomness, trigger, complete,
// settle, fund the reserve) and assertions on the final balances and state.
// Every machine call is recorded in a trace of canonical JSON events, which
// golden tests compare byte for byte.
//
// Participants are named by label ("alice", "dao"). Labels are turned into
// addresses with testutil.Address and printed back as labels in traces.
package harness
