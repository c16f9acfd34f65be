package tensor

import "fmt"

const arenaAlign = 32

// ErrArenaExhausted reports an allocation request that does not fit in the
// arena's remaining capacity.
type ErrArenaExhausted struct {
	Need int
	Have int
}

func (e ErrArenaExhausted) Error() string {
	return fmt.Sprintf("arena exhausted: need %d bytes, have %d", e.Need, e.Have)
}

// Arena is a fixed-size contiguous region that tensors are carved from
// without per-object allocation. Model weights live in one arena for the
// lifetime of the model; forward-pass scratch arenas are Reset between
// calls and grown on demand by their owner.
type Arena struct {
	buf  []byte
	used int
}

func NewArena(size int) *Arena {
	return &Arena{buf: make([]byte, size)}
}

// Alloc carves n bytes, aligned to 32, out of the arena.
func (a *Arena) Alloc(n int) ([]byte, error) {
	off := align(a.used)
	if off+n > len(a.buf) {
		return nil, ErrArenaExhausted{Need: off + n - len(a.buf), Have: len(a.buf) - a.used}
	}
	a.used = off + n
	return a.buf[off : off+n : off+n], nil
}

// Used returns the high-water byte count of the arena.
func (a *Arena) Used() int { return a.used }

// Cap returns the arena's total capacity in bytes.
func (a *Arena) Cap() int { return len(a.buf) }

// Reset discards all carved objects. Views handed out before the reset
// must not be used afterwards.
func (a *Arena) Reset() { a.used = 0 }

// Grow replaces the backing buffer with one of at least size bytes and
// resets the arena. Existing views are invalidated; callers grow only
// between forward-pass calls, never while one is in flight.
func (a *Arena) Grow(size int) {
	if size <= len(a.buf) {
		a.used = 0
		return
	}
	a.buf = make([]byte, size)
	a.used = 0
}

func align(n int) int {
	return (n + arenaAlign - 1) &^ (arenaAlign - 1)
}
