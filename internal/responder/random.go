package responder

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the randomness the responder draws from
type Source interface {
	// Float64 returns a number in [0,1)
	Float64() float64
	// Intn returns a number in [0,n)
	Intn(n int) int
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSource returns a goroutine-safe Source; seed 0 seeds from the clock
func NewSource(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

func pick[T any](rnd Source, items []T) T {
	return items[rnd.Intn(len(items))]
}
