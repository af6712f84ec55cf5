// Package pressure is the pressure-point registry (C6): a process-wide set
// of (location, behavior) fault injectors used to deterministically exercise
// crash-recovery paths in tests. Grounded on
// original_source/src/pressure_point/pressure_point.py and
// pressure_point_manager.py, which implement the same thing as a Python
// singleton wrapping a set; cast here as a package-level mutex-guarded map,
// matching the shared-state idiom luigitni-simpledb/buffer/buffer_manager.go
// uses for its block map.
package pressure

import "sync"

// Location names a site in the system where a fault can be injected.
type Location string

// Behavior names what happens when a pressure point fires.
type Behavior string

const (
	// LogManagerRollbackAfterCLR models a crash that records a CLR but does
	// not complete the physical/logical undo it compensates for.
	LogManagerRollbackAfterCLR Location = "log_manager.rollback.after_clr"

	// PageStoreDuringWrite names a page-store write failure. No call site
	// consults it: registering it does not change pagestore.Store.Write.
	PageStoreDuringWrite Location = "pagestore.write"
)

const (
	// EarlyReturn makes the call site return immediately, as if the process
	// had crashed at that point.
	EarlyReturn Behavior = "early_return"

	// ExceptionAtStart names a failure before the call site does any work.
	// No call site in this module checks for it.
	ExceptionAtStart Behavior = "exception_at_start"

	// ExceptionDuring names a failure partway through the call site's work.
	// No call site in this module checks for it.
	ExceptionDuring Behavior = "exception_during"
)

// Point is a single (location, behavior) fault injector.
type Point struct {
	Location Location
	Behavior Behavior
}

var (
	mu      sync.RWMutex
	active  = map[Point]struct{}{}
)

// Add registers a pressure point. Idempotent.
func Add(p Point) {
	mu.Lock()
	defer mu.Unlock()
	active[p] = struct{}{}
}

// Remove unregisters a pressure point. Idempotent.
func Remove(p Point) {
	mu.Lock()
	defer mu.Unlock()
	delete(active, p)
}

// Has reports whether the given pressure point is currently registered.
func Has(p Point) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := active[p]
	return ok
}

// Count returns the number of active pressure points.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(active)
}

// Reset clears every registered pressure point. Tests should call this in
// between cases to avoid leaking fault injectors across the (process-wide)
// registry.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	active = map[Point]struct{}{}
}
