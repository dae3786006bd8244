package session

import (
	"crypto/rand"
	"math/big"
	mathrand "math/rand"
	"sync"
)

// PortAllocator hands out relay port numbers from a configured range
// without ever opening a socket: the server always relays through its own
// listening sockets, demultiplexed by (relay IP, relay port, peer
// address), so "allocating a port" only needs to reserve a number.
//
// Free ports are tracked as a swap-remove free list plus each port's
// position within it, so Allocate/Release/Reserve are all O(1)
// regardless of range size: picking a random free port never needs to
// scan the range.
type PortAllocator struct {
	minPort int
	maxPort int

	mu       sync.Mutex
	freeList []int // port indices (0-based from minPort) currently free
	pos      []int // pos[i]: index of port i within freeList, or -1 if allocated
}

// NewPortAllocator builds an allocator over the inclusive [minPort,
// maxPort] range, starting with every port free.
func NewPortAllocator(minPort, maxPort int) *PortAllocator {
	if maxPort < minPort {
		minPort, maxPort = maxPort, minPort
	}
	n := maxPort - minPort + 1
	freeList := make([]int, n)
	pos := make([]int, n)
	for i := 0; i < n; i++ {
		freeList[i] = i
		pos[i] = i
	}
	return &PortAllocator{
		minPort:  minPort,
		maxPort:  maxPort,
		freeList: freeList,
		pos:      pos,
	}
}

// Allocate reserves and returns a random free port in range, or
// ErrNoCapacity if every port is in use. O(1): picks a random position in
// the free list and swap-removes it.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.freeList) == 0 {
		return 0, ErrNoCapacity
	}
	i := randomIndex(len(a.freeList))
	idx := a.freeList[i]
	a.removeFreeAt(i)
	return a.minPort + idx, nil
}

// Reserve marks a specific port as in use, failing if it's already taken
// or out of range. No request handler calls it; the router does not
// handle EVEN-PORT or RESERVATION-TOKEN.
func (a *PortAllocator) Reserve(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := port - a.minPort
	if idx < 0 || idx >= len(a.pos) || a.pos[idx] == -1 {
		return false
	}
	a.removeFreeAt(a.pos[idx])
	return true
}

// Release frees a previously allocated port. A release of a port outside
// the range or already free is a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := port - a.minPort
	if idx < 0 || idx >= len(a.pos) || a.pos[idx] != -1 {
		return
	}
	a.pos[idx] = len(a.freeList)
	a.freeList = append(a.freeList, idx)
}

// removeFreeAt removes the free-list entry at position i by swapping in
// the last entry, and marks the removed port index as allocated. Caller
// holds a.mu.
func (a *PortAllocator) removeFreeAt(i int) {
	idx := a.freeList[i]
	last := len(a.freeList) - 1
	a.freeList[i] = a.freeList[last]
	a.pos[a.freeList[i]] = i
	a.freeList = a.freeList[:last]
	a.pos[idx] = -1
}

// InUse reports the number of currently allocated ports, for metrics.
// O(1): the free count is tracked incrementally.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pos) - len(a.freeList)
}

// randomIndex picks a cryptographically random index in [0, n), falling
// back to math/rand if the system CSPRNG is unavailable.
func randomIndex(n int) int {
	if n <= 0 {
		return 0
	}
	max := big.NewInt(int64(n))
	if v, err := rand.Int(rand.Reader, max); err == nil {
		return int(v.Int64())
	}
	return mathrand.Intn(n)
}
