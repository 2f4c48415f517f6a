package ipv4

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"firestige.xyz/pktcraft/pkg/core"
)

const (
	idSpace     = 1 << 16
	idBlockSize = 8
	idBlocks    = idSpace / idBlockSize
	defaultStep = 3
)

// IDAllocator hands out IPv4 identification values that are unique among the
// datagrams currently in flight (RFC 6864). A value is reserved by Allocate
// and returned by Free once the datagram has been handed to the link.
//
// The scan start is derived from the previous start block plus a xorshift
// step, so consecutive datagrams do not carry sequential, guessable IDs.
// Allocate and Free share one mutex.
type IDAllocator struct {
	mu        sync.Mutex
	bitmap    [idSpace / 64]uint64
	inUse     int
	lastBlock uint16
	rng       uint16
	stride    uint16
}

// AllocatorOption configures an IDAllocator.
type AllocatorOption func(*IDAllocator)

// WithSeed fixes the scan-start state, making the ID sequence reproducible.
func WithSeed(seed uint16) AllocatorOption {
	return func(a *IDAllocator) {
		a.lastBlock = seed % idBlocks
		a.rng = seed
	}
}

// WithStride sets the probe stride. Only odd strides are accepted because
// they are coprime with 65536 and visit every ID; anything else is ignored.
func WithStride(stride uint16) AllocatorOption {
	return func(a *IDAllocator) {
		if stride%2 == 1 {
			a.stride = stride
		}
	}
}

// NewIDAllocator returns an empty allocator.
func NewIDAllocator(opts ...AllocatorOption) *IDAllocator {
	seed := uint16(rand.Uint32())
	a := &IDAllocator{
		lastBlock: seed % idBlocks,
		rng:       seed,
		stride:    defaultStep,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == 0 {
		// xorshift never leaves zero
		a.rng = 0xACE1
	}
	return a
}

var defaultAllocator = NewIDAllocator()

// DefaultAllocator returns the process-wide allocator used by sockets that
// were not given their own.
func DefaultAllocator() *IDAllocator { return defaultAllocator }

// Allocate reserves an unused ID. It fails with core.ErrIDSpaceExhausted
// when all 65536 values are in flight.
func (a *IDAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inUse >= idSpace {
		return 0, core.ErrIDSpaceExhausted
	}

	a.rng = xorshift16(a.rng)
	block := (a.lastBlock + a.rng) % idBlocks
	a.lastBlock = block

	entry := block * idBlockSize
	for i := 0; i < idSpace; i++ {
		if !a.test(entry) {
			a.set(entry)
			a.inUse++
			return entry, nil
		}
		entry += a.stride // wraps at 65536
	}
	return 0, core.ErrIDSpaceExhausted
}

// Free returns id to the pool. Freeing an unused ID is a no-op.
func (a *IDAllocator) Free(id uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.test(id) {
		a.clear(id)
		a.inUse--
	}
}

// InUse reports how many IDs are currently reserved.
func (a *IDAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// IsAllocated reports whether id is currently reserved.
func (a *IDAllocator) IsAllocated(id uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.test(id)
}

// Reset releases every ID.
func (a *IDAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bitmap = [idSpace / 64]uint64{}
	a.inUse = 0
}

// Acquire reserves an ID and wraps it in a Lease whose Release is safe to
// defer on every exit path.
func (a *IDAllocator) Acquire() (*Lease, error) {
	id, err := a.Allocate()
	if err != nil {
		return nil, err
	}
	return &Lease{alloc: a, id: id}, nil
}

func (a *IDAllocator) test(id uint16) bool { return a.bitmap[id>>6]&(1<<(id&63)) != 0 }
func (a *IDAllocator) set(id uint16)       { a.bitmap[id>>6] |= 1 << (id & 63) }
func (a *IDAllocator) clear(id uint16)     { a.bitmap[id>>6] &^= 1 << (id & 63) }

// Lease is a reserved ID. Release is idempotent.
type Lease struct {
	alloc    *IDAllocator
	id       uint16
	released atomic.Bool
}

// ID returns the reserved value.
func (l *Lease) ID() uint16 { return l.id }

// Release returns the ID to its allocator. Calls after the first do nothing.
func (l *Lease) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	l.alloc.Free(l.id)
}

// xorshift16 is the 16-bit Xorshift step (7, 9, 8).
func xorshift16(x uint16) uint16 {
	x ^= x << 7
	x ^= x >> 9
	x ^= x << 8
	return x
}
