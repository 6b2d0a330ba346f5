// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package schedwrapper is a thin adapter projecting a
// github.com/joeycumines/priosched.PriorityScheduler behind the generic
// "scheduled executor service" contract of spec.md §4.5/§6: Execute,
// Submit/SubmitResult/SubmitFunc, Schedule, ScheduleWithFixedDelay,
// ScheduleAtFixedRate, InvokeAll, Shutdown, ShutdownNow, IsShutdown,
// IsTerminated, AwaitTermination.
//
// Every submission through this surface uses the default priority the
// Wrapper was constructed with; there are no per-call priority variants. This mirrors the
// thin-adapter convention demonstrated by logiface-zerolog/logiface-
// stumpy, which depend on and translate the surface of a core package
// rather than reimplementing it.
package schedwrapper
