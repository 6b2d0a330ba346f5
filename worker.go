package priosched

// worker-related bookkeeping lives on PriorityScheduler itself
// (scheduler.go's runWorker/maybeStartWorker/aboveCorePoolSize); this file
// holds only the small helpers kept separate for readability, grounded on
// catrate.Limiter's lazily-started background goroutine guarded by a CAS
// flag, generalized here to a managed set of N workers tracked by atomic
// counters plus a sync.WaitGroup for coordinated shutdown.

func (s *PriorityScheduler) aboveCorePoolSize() bool {
	return int(s.metrics.workers.Load()) > s.cfg.corePoolSize
}

// maybeStartWorker applies spec.md §4.2's worker-start rule: a new worker
// is started if fewer than corePoolSize exist, or if every existing
// worker is busy and worker count is below maxPoolSize. The check is a
// heuristic, not a hard guarantee, under concurrent submissions — the
// same looseness Java's ThreadPoolExecutor accepts around its own
// core/max thresholds.
func (s *PriorityScheduler) maybeStartWorker() {
	total := int(s.metrics.workers.Load())
	if total < s.cfg.corePoolSize {
		s.startWorker()
		return
	}
	idle := int(s.metrics.idleWorkers.Load())
	if idle == 0 && total < s.cfg.maxPoolSize {
		s.startWorker()
	}
}

func (s *PriorityScheduler) startWorker() {
	s.metrics.workers.Add(1)
	s.wg.Add(1)
	go s.runWorker()
}
