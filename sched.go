package clockfs

import "sync"

// Task is the bookkeeping half of the priority-donation model: the subset of a pintos
// struct thread that the lock primitive needs (base_priority, effective_priority,
// waiting_for, locks_held). Real preemptive scheduling is out of scope (spec.md
// §1); Task only tracks the numbers PDM's donation algorithm reads and writes, so
// tests can observe donation and reversion without a real scheduler underneath.
type Task struct {
	mu         sync.Mutex
	name       string
	base       int
	effective  int
	waitingFor *PDM
	locksHeld  []*PDM
}

// NewTask creates a task with the given base priority. Effective priority starts
// equal to base priority, per spec.md §4.1.
func NewTask(name string, basePriority int) *Task {
	return &Task{name: name, base: basePriority, effective: basePriority}
}

func (t *Task) Name() string { return t.name }

func (t *Task) BasePriority() int { return t.base }

func (t *Task) EffectivePriority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effective
}

// WaitingFor reports the lock this task is currently blocked acquiring, or nil.
func (t *Task) WaitingFor() *PDM {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitingFor
}

func (t *Task) setWaitingFor(m *PDM) {
	t.mu.Lock()
	t.waitingFor = m
	t.mu.Unlock()
}

// raisePriorityTo implements one step of the donation walk: bump effective priority
// up to p if it isn't already there. Returns false if no change was made, which the
// walk uses as its truncation signal alongside "no further waiting_for" and "holder
// is nil".
func (t *Task) raisePriorityTo(p int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.effective >= p {
		return false
	}
	t.effective = p
	return true
}

func (t *Task) addLock(m *PDM) {
	t.mu.Lock()
	t.locksHeld = append(t.locksHeld, m)
	t.mu.Unlock()
}

func (t *Task) removeLock(m *PDM) {
	t.mu.Lock()
	for i, l := range t.locksHeld {
		if l == m {
			t.locksHeld = append(t.locksHeld[:i], t.locksHeld[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
}

// recomputeEffectivePriority implements lock_release's step 2: effective priority
// reverts to max(base_priority, max over remaining locks_held of max waiter
// effective_priority).
func (t *Task) recomputeEffectivePriority() {
	t.mu.Lock()
	held := make([]*PDM, len(t.locksHeld))
	copy(held, t.locksHeld)
	t.mu.Unlock()

	p := t.BasePriority()
	for _, m := range held {
		if w := m.maxWaiterPriority(); w > p {
			p = w
		}
	}

	t.mu.Lock()
	t.effective = p
	t.mu.Unlock()
}
