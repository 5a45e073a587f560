package experiment

import (
	crand "crypto/rand"
	"encoding/binary"
	"log"
	"math/big"
	mrand "math/rand"
	"sync"
	"time"
)

// Randomizer draws exactly one treatment arm per session, uniformly at
// random. The draw is single-shot: every call after the first returns the
// value drawn first, never a re-roll.
type Randomizer struct {
	arms []Arm
	intn func(n int) int

	mu    sync.Mutex
	drawn *Arm
}

// NewRandomizer validates the arm set and binds a random source. A nil
// source selects the default crypto-backed one.
func NewRandomizer(arms []Arm, intn func(n int) int) (*Randomizer, error) {
	if len(arms) == 0 {
		return nil, ErrEmptyArmSet
	}
	if intn == nil {
		intn = CryptoIntn
	}
	set := make([]Arm, len(arms))
	copy(set, arms)
	return &Randomizer{arms: set, intn: intn}, nil
}

// Draw returns the session's assigned arm.
func (r *Randomizer) Draw() Arm {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drawn == nil {
		a := r.arms[r.intn(len(r.arms))]
		r.drawn = &a
	}
	return *r.drawn
}

// Drawn reports the assigned arm without forcing a draw.
func (r *Randomizer) Drawn() (Arm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drawn == nil {
		return Arm{}, false
	}
	return *r.drawn, true
}

// CryptoIntn returns a uniform value in [0, n) from crypto/rand, degrading
// to a seeded pseudo-random source if the platform source is unavailable.
func CryptoIntn(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return fallbackIntn(n)
	}
	return int(v.Int64())
}

var (
	fallbackOnce sync.Once
	fallbackMu   sync.Mutex
	fallbackRand *mrand.Rand
)

func fallbackIntn(n int) int {
	fallbackOnce.Do(func() {
		var b [8]byte
		seed := time.Now().UnixNano()
		if _, err := crand.Read(b[:]); err == nil {
			seed = int64(binary.LittleEndian.Uint64(b[:]))
		} else {
			log.Printf("randomizer: crypto source unavailable, seeding from clock: %v", err)
		}
		fallbackRand = mrand.New(mrand.NewSource(seed))
	})
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	return fallbackRand.Intn(n)
}
