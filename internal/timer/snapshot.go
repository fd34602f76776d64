package timer

// Snapshot returns the pending tasks in execution order.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	recs := s.idx.ordered()
	stopped := s.stopped
	now := s.clk.Now()
	s.mu.Unlock()

	tasks := make([]TaskInfo, 0, len(recs))
	for _, r := range recs {
		due := r.deadline - now
		if due < 0 {
			due = 0
		}
		tasks = append(tasks, TaskInfo{
			ID:         r.id,
			DueIn:      due.Duration(),
			Period:     r.period.Duration(),
			Recurrence: r.recurrence,
			Remaining:  r.remaining,
		})
	}
	return Snapshot{
		Mode:    s.mode,
		Stopped: stopped,
		Pending: len(tasks),
		Tasks:   tasks,
	}
}
