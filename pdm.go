package clockfs

import "sync"

// maxDonationDepth bounds the donation walk (spec.md §9: "Model as a bounded walk
// (depth ≤ small constant, e.g. 8, to prevent pathological chains)").
const maxDonationDepth = 8

// PDM is a non-recursive, priority-donating mutex (spec.md §4.1). It is the one
// synchronization primitive every other subsystem in this package is built on:
// the buffer cache's metadata lock and per-entry payload locks, the open-inode
// arena's lock, and the free-map's own lock are all PDMs.
type PDM struct {
	name string
	sem  *semaphore

	mu     sync.Mutex
	holder *Task
}

// NewPDM creates an initially-unheld lock. name is used only for diagnostics.
func NewPDM(name string) *PDM {
	return &PDM{name: name, sem: newSemaphore(1)}
}

// HeldByCurrent reports whether t currently holds m.
func (m *PDM) HeldByCurrent(t *Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder == t
}

func (m *PDM) Holder() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

func (m *PDM) maxWaiterPriority() int {
	return m.sem.maxWaiterPriority()
}

// TryAcquire attempts to take m without blocking.
func (m *PDM) TryAcquire(t *Task) bool {
	m.mu.Lock()
	if m.holder == t {
		m.mu.Unlock()
		panic(Bug("pdm " + m.name + ": recursive acquire by holder"))
	}
	m.mu.Unlock()

	if !m.sem.tryDown() {
		return false
	}
	m.mu.Lock()
	m.holder = t
	m.mu.Unlock()
	t.addLock(m)
	return true
}

// Acquire blocks until m is free, donating t's effective priority up the chain of
// holders it waits behind (spec.md §4.1 step 2-3).
func (m *PDM) Acquire(t *Task) {
	m.mu.Lock()
	holder := m.holder
	if holder == t {
		m.mu.Unlock()
		panic(Bug("pdm " + m.name + ": recursive acquire by holder"))
	}
	m.mu.Unlock()

	if holder != nil {
		t.setWaitingFor(m)
		donatePriority(t)
	}

	m.sem.down(t)

	t.setWaitingFor(nil)
	m.mu.Lock()
	m.holder = t
	m.mu.Unlock()
	t.addLock(m)
}

// Release hands m back. The caller's effective priority is recomputed (it may drop
// back toward its base priority) and the highest-priority waiter, if any, is woken.
func (m *PDM) Release(t *Task) {
	m.mu.Lock()
	if m.holder != t {
		m.mu.Unlock()
		panic(Bug("pdm " + m.name + ": release by non-holder"))
	}
	m.holder = nil
	m.mu.Unlock()

	t.removeLock(m)
	t.recomputeEffectivePriority()
	m.sem.up()
}

// donatePriority walks H, H.waiting_for.holder, ... updating each holder's effective
// priority to max(current, requester's), truncating at no-further-waiting_for, a nil
// holder, a holder whose priority already dominates the requester's, or
// maxDonationDepth links (spec.md §4.1 step 2, §9).
func donatePriority(requester *Task) {
	m := requester.WaitingFor()
	if m == nil {
		return
	}
	cur := m.Holder()

	for depth := 0; cur != nil && depth < maxDonationDepth; depth++ {
		if !cur.raisePriorityTo(requester.EffectivePriority()) {
			return
		}
		next := cur.WaitingFor()
		if next == nil {
			return
		}
		nextHolder := next.Holder()
		if nextHolder == nil {
			return
		}
		cur = nextHolder
	}
}
