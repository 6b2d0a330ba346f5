// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package priosched implements a concurrent, prioritized task scheduler on
// top of a shared worker pool.
//
// Three pieces do the hard work:
//
//   - [PriorityScheduler]: a fixed/elastic worker pool that dispatches the
//     earliest eligible task across High, Low, and Starvable priority
//     queues, with worker keep-alive and graceful/immediate shutdown.
//   - [Future]: the completion handle returned from every submission,
//     supporting cancellation (with optional interruption), timed waits,
//     and callback delivery.
//   - the github.com/joeycumines/priosched/keyedlimiter package, layered
//     above a PriorityScheduler, caps the number of concurrently executing
//     tasks sharing a caller-supplied key.
//
// A scheduler is created with [New] and must eventually be shut down with
// [PriorityScheduler.Shutdown] or [PriorityScheduler.ShutdownNow].
//
//	s, err := priosched.New()
//	if err != nil {
//	    return err
//	}
//	defer s.Shutdown(context.Background())
//
//	fut, err := priosched.SubmitFunc(s, priosched.Low, func(ctx context.Context) (int, error) {
//	    return 42, nil
//	})
//	if err != nil {
//	    return err
//	}
//	v, err := fut.Get(context.Background())
package priosched
