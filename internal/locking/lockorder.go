// Package locking holds small runtime invariant checkers for the engine's
// locking protocol. The engine-wide rule is a single fixed acquisition order:
// catalog lock before any per-view lock, and no lock held across a subscriber
// callback. The checker is compiled in but inert unless enabled, so tests can
// turn it on without taxing production commits.
package locking

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// Rank orders the lock classes. Lower ranks must be acquired first.
type Rank int

const (
	RankCatalog Rank = iota + 1
	RankView
)

func (r Rank) String() string {
	switch r {
	case RankCatalog:
		return "catalog"
	case RankView:
		return "view"
	default:
		return fmt.Sprintf("rank(%d)", int(r))
	}
}

// Checker records, per goroutine, the stack of held lock ranks and panics on
// an out-of-order acquisition. Zero value is a disabled checker.
type Checker struct {
	mu      sync.Mutex
	enabled bool
	held    map[uint64][]Rank
}

func NewChecker() *Checker {
	return &Checker{held: make(map[uint64][]Rank)}
}

// Enable turns violation checking on. Intended for tests and debug builds.
func (c *Checker) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Acquired must be called immediately after taking a lock of the given rank.
func (c *Checker) Acquired(r Rank) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	id := goid()
	stack := c.held[id]
	if n := len(stack); n > 0 && stack[n-1] > r {
		panic(fmt.Sprintf("locking: %s lock acquired while holding %s lock", r, stack[n-1]))
	}
	c.held[id] = append(stack, r)
}

// Released must be called immediately before dropping a lock of the given rank.
func (c *Checker) Released(r Rank) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	id := goid()
	stack := c.held[id]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == r {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(stack) == 0 {
		delete(c.held, id)
	} else {
		c.held[id] = stack
	}
}

// AssertNoneHeld panics if the calling goroutine still holds any tracked lock.
// Called right before subscriber callbacks run.
func (c *Checker) AssertNoneHeld() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if stack := c.held[goid()]; len(stack) > 0 {
		panic(fmt.Sprintf("locking: callback about to run while holding %s lock", stack[len(stack)-1]))
	}
}

// goid parses the goroutine id out of the stack header. Slow, which is fine:
// the checker only pays this cost when enabled.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// header looks like "goroutine 123 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}
