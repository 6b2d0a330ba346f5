// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package keyedlimiter layers per-key concurrency limiting above a
// github.com/joeycumines/priosched.PriorityScheduler: for every
// caller-supplied routing key it caps the number of concurrently
// executing tasks sharing that key, while still drawing workers from the
// backing scheduler.
//
// The key space is sharded across P lock-independent stripes (a striped
// hash map, grounded on catrate's sync.Map-per-category sharding), so
// unrelated keys never contend on the same lock. Each key's gate state —
// active count, waiting queue, and an in-flight task counter — lives in a
// lazily created container that is evicted once it goes idle.
package keyedlimiter
