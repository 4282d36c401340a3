package store

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrStoreFull     = errors.New("store: no free slot")
	ErrInvalidHandle = errors.New("store: invalid handle")
	ErrDataTooLarge  = errors.New("store: data larger than slot")
)

// Handle addresses one stored packet. The low 16 bits select the slot and the
// high 16 bits carry the slot generation, so a stale handle never aliases a
// newer packet.
type Handle uint32

func makeHandle(slot int, gen uint16) Handle {
	return Handle(uint32(gen)<<16 | uint32(slot))
}

func (h Handle) slot() int {
	return int(uint32(h) & 0xffff)
}

func (h Handle) gen() uint16 {
	return uint16(uint32(h) >> 16)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d/%d", h.slot(), h.gen())
}

// Pool is a fixed-capacity packet store. All memory is allocated up front.
type Pool struct {
	mu       sync.Mutex
	slotSize int
	data     [][]byte
	lens     []int
	gens     []uint16
	used     []bool
	free     []int
}

// NewPool allocates slots buffers of slotSize bytes. slots is capped at 65536.
func NewPool(slots, slotSize int) *Pool {
	if slots > 1<<16 {
		slots = 1 << 16
	}
	p := &Pool{
		slotSize: slotSize,
		data:     make([][]byte, slots),
		lens:     make([]int, slots),
		gens:     make([]uint16, slots),
		used:     make([]bool, slots),
		free:     make([]int, 0, slots),
	}
	backing := make([]byte, slots*slotSize)
	for i := 0; i < slots; i++ {
		p.data[i] = backing[i*slotSize : (i+1)*slotSize : (i+1)*slotSize]
		p.gens[i] = 1
	}
	for i := slots - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// Add copies data into a free slot.
func (p *Pool) Add(data []byte) (Handle, error) {
	if len(data) > p.slotSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrDataTooLarge, len(data), p.slotSize)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, ErrStoreFull
	}
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used[slot] = true
	p.lens[slot] = copy(p.data[slot], data)
	return makeHandle(slot, p.gens[slot]), nil
}

// Get returns a copy of the packet addressed by h.
func (p *Pool) Get(h Handle) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, err := p.lookup(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, p.lens[slot])
	copy(out, p.data[slot])
	return out, nil
}

// Delete releases the slot addressed by h.
func (p *Pool) Delete(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, err := p.lookup(h)
	if err != nil {
		return err
	}
	p.used[slot] = false
	p.lens[slot] = 0
	p.gens[slot]++
	if p.gens[slot] == 0 {
		p.gens[slot] = 1
	}
	p.free = append(p.free, slot)
	return nil
}

// Stats returns the number of occupied slots and the pool capacity.
func (p *Pool) Stats() (used, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data) - len(p.free), len(p.data)
}

// HasRoom reports whether n more packets can be added.
func (p *Pool) HasRoom(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) >= n
}

func (p *Pool) SlotSize() int {
	return p.slotSize
}

func (p *Pool) lookup(h Handle) (int, error) {
	slot := h.slot()
	if slot >= len(p.data) || !p.used[slot] || p.gens[slot] != h.gen() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	return slot, nil
}
