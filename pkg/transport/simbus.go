package transport

import (
	"math/rand"
	"sync"
)

// SimBus is an in-process simulated shared medium connecting N nodes'
// TxSink/RxSource pairs. Advancing it one byte-slot at a time models the
// "any two concurrent transmissions collide" rule: if more than one
// connected port has a queued byte in the same slot, the delivered byte is
// randomised instead of being either sender's real byte. An independent
// per-byte loss probability can also be configured.
type SimBus struct {
	mu              sync.Mutex
	ports           []*SimPort
	lossProbability float64
	rng             *rand.Rand
}

// NewSimBus creates a bus with the given independent per-byte loss
// probability (0 disables loss) seeded for reproducible tests.
func NewSimBus(lossProbability float64, seed int64) *SimBus {
	return &SimBus{
		lossProbability: lossProbability,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Connect attaches a new node to the bus and returns its TxSink/RxSource.
func (b *SimBus) Connect() *SimPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &SimPort{bus: b}
	b.ports = append(b.ports, p)
	return p
}

// Tick advances the bus by one byte-slot: each connected port that has a
// queued byte contributes it; more than one contributor corrupts the
// delivered byte; the result (possibly dropped) is broadcast to every
// port that was not driving the bus this slot. A transmitter never hears
// its own bytes: an RS-485 transceiver's receiver is disabled while its
// driver is enabled.
func (b *SimBus) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var data byte
	contributors := 0
	driving := make([]bool, len(b.ports))
	for i, p := range b.ports {
		if len(p.txQueue) == 0 {
			continue
		}
		next := p.txQueue[0]
		p.txQueue = p.txQueue[1:]
		if contributors == 0 {
			data = next
		} else {
			data = byte(b.rng.Intn(256)) // collision: no longer any single sender's real byte
		}
		contributors++
		driving[i] = true
	}
	if contributors == 0 {
		return
	}
	if b.lossProbability > 0 && b.rng.Float64() < b.lossProbability {
		return
	}
	for i, p := range b.ports {
		if driving[i] {
			continue
		}
		p.rxQueue = append(p.rxQueue, data)
	}
}

// SimPort is one node's connection to a SimBus.
type SimPort struct {
	bus     *SimBus
	txQueue []byte
	rxQueue []byte
}

func (p *SimPort) Write(data []byte) (int, error) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.txQueue = append(p.txQueue, data...)
	return len(data), nil
}

func (p *SimPort) Read() ([]byte, error) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	out := p.rxQueue
	p.rxQueue = nil
	return out, nil
}
