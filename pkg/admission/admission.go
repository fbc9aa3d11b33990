// Package admission bounds the number of pipeline jobs running at once.
package admission

import (
	"sort"
	"sync"
)

// DefaultCeiling is the number of concurrent jobs admitted by default.
const DefaultCeiling = 3

// Controller hands out a fixed number of slots, one per job id.
//
// Acquire never blocks: callers surface a false return as a retryable
// capacity error. Each granted slot must be released exactly once.
type Controller struct {
	mu      sync.Mutex
	ceiling int
	active  map[string]struct{}
}

// New returns a Controller admitting at most ceiling jobs. A ceiling <= 0
// uses DefaultCeiling.
func New(ceiling int) *Controller {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Controller{
		ceiling: ceiling,
		active:  make(map[string]struct{}, ceiling),
	}
}

// TryAcquire grants a slot to jobID. It returns false when the ceiling is
// reached or jobID already holds a slot.
func (c *Controller) TryAcquire(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.active[jobID]; held {
		return false
	}
	if len(c.active) >= c.ceiling {
		return false
	}
	c.active[jobID] = struct{}{}
	return true
}

// Release frees the slot held by jobID. Releasing an id that holds no slot
// is a no-op and returns false.
func (c *Controller) Release(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.active[jobID]; !held {
		return false
	}
	delete(c.active, jobID)
	return true
}

// Active returns the number of held slots.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// ActiveIDs returns the job ids holding slots, sorted.
func (c *Controller) ActiveIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ceiling returns the configured maximum.
func (c *Controller) Ceiling() int {
	return c.ceiling
}

// IsActive reports whether jobID currently holds a slot.
func (c *Controller) IsActive(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, held := c.active[jobID]
	return held
}
