package pricefeed

import (
	"math/rand"
	"sort"
	"sync"
)

// Provider supplies the price vector the block producer embeds at a height.
type Provider interface {
	Vector(height uint64, timestamp uint64) []uint32
}

// RandomWalk is a deterministic devnet provider: every feed drifts by at most
// stepBps per block from its starting tick.
type RandomWalk struct {
	mu      sync.Mutex
	rng     *rand.Rand
	ticks   []uint32
	stepBps int64
}

func NewRandomWalk(seed int64, start []uint32, stepBps int64) *RandomWalk {
	return &RandomWalk{
		rng:     rand.New(rand.NewSource(seed)),
		ticks:   append([]uint32(nil), start...),
		stepBps: stepBps,
	}
}

func (w *RandomWalk) Vector(_ uint64, timestamp uint64) []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uint32, len(w.ticks)+1)
	out[0] = uint32(timestamp)
	for i, tick := range w.ticks {
		if w.stepBps > 0 {
			move := int64(tick) * (w.rng.Int63n(2*w.stepBps+1) - w.stepBps) / 10000
			next := int64(tick) + move
			if next < 1 {
				next = 1
			}
			w.ticks[i] = uint32(next)
		}
		out[i+1] = w.ticks[i]
	}
	return out
}

// Step switches every feed to Ticks from FromHeight on.
type Step struct {
	FromHeight uint64
	Ticks      []uint32
}

// Scripted replays fixed ticks by height.
type Scripted struct {
	steps []Step
}

func NewScripted(steps ...Step) *Scripted {
	s := &Scripted{steps: append([]Step(nil), steps...)}
	sort.Slice(s.steps, func(i, j int) bool { return s.steps[i].FromHeight < s.steps[j].FromHeight })
	return s
}

func (s *Scripted) Vector(height uint64, timestamp uint64) []uint32 {
	var ticks []uint32
	for _, st := range s.steps {
		if st.FromHeight > height {
			break
		}
		ticks = st.Ticks
	}
	out := make([]uint32, len(ticks)+1)
	out[0] = uint32(timestamp)
	copy(out[1:], ticks)
	return out
}
