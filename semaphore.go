package clockfs

import "sync"

// semaphore is the counting semaphore original_source/pintos/src/threads/synch.c builds
// its lock on top of (sema_down/sema_up), generalized so the waiter list can be
// scanned by priority instead of popped FIFO. PDM uses one semaphore of initial
// value 1; the donation algorithm needs to inspect and reorder waiters by effective
// priority, which sync.Mutex cannot expose, so this stays a hand-rolled primitive
// rather than wrapping sync.Mutex.
type semaphore struct {
	mu      sync.Mutex
	value   int
	waiters []*semaWaiter
}

type semaWaiter struct {
	task *Task
	wake chan struct{}
}

func newSemaphore(value int) *semaphore {
	return &semaphore{value: value}
}

// down blocks the calling task until a unit is available, then takes it.
func (s *semaphore) down(t *Task) {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return
	}
	w := &semaWaiter{task: t, wake: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	<-w.wake
}

// tryDown takes a unit without blocking, reporting whether it succeeded.
func (s *semaphore) tryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// up releases a unit. If waiters are queued, the one with the highest effective
// priority is woken directly (matching synch.c's list_max(&sema->waiters,
// priority_comparator, ...)) instead of incrementing value; ties are broken by
// earliest arrival, which is deterministic within this implementation.
func (s *semaphore) up() {
	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.value++
		s.mu.Unlock()
		return
	}

	best := 0
	bestPriority := s.waiters[0].task.EffectivePriority()
	for i := 1; i < len(s.waiters); i++ {
		if p := s.waiters[i].task.EffectivePriority(); p > bestPriority {
			bestPriority = p
			best = i
		}
	}

	w := s.waiters[best]
	s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	s.mu.Unlock()

	close(w.wake)
}

// maxWaiterPriority returns the highest effective priority among queued waiters,
// or -1 if none are waiting. Used by Task.recomputeEffectivePriority.
func (s *semaphore) maxWaiterPriority() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := -1
	for _, w := range s.waiters {
		if p := w.task.EffectivePriority(); p > best {
			best = p
		}
	}
	return best
}
