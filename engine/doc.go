// Package engine runs one shard of a distributed fuzzing campaign.
//
// Shards cooperate only through the working directory: each shard appends
// the inputs that grew its coverage to its own corpus and features files and
// periodically loads the files of a random peer. Within a process several
// engines may run side by side; they share nothing but an optional EarlyExit
// and an optional shard-load lock.
//
// The engine talks to the target only through Callbacks. NewDefaultCallbacks
// wires the subprocess executor and the byte-array mutator.
package engine
