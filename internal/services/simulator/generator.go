package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SensorSpec describes one simulated reading.
type SensorSpec struct {
	Name           string  `yaml:"name"`
	TypeCategoryID int     `yaml:"typeCategoryID"`
	TypeID         int     `yaml:"typeID"`
	Min            float64 `yaml:"min"`
	Max            float64 `yaml:"max"`
	Start          float64 `yaml:"start"`
	// Step is the largest random change per reading.
	Step float64 `yaml:"step"`
	// Target is the writable property whose commands drive this reading.
	Target string `yaml:"target"`
	// RatePerMin is how fast the reading approaches a commanded target.
	RatePerMin float64 `yaml:"ratePerMin"`
}

// DataGenerator keeps the simulated value of one sensor. Without a target
// it random walks inside [Min, Max]; with one it moves toward it.
type DataGenerator struct {
	mu        sync.Mutex
	spec      SensorSpec
	value     float64
	target    float64
	hasTarget bool
	last      time.Time
	rng       *rand.Rand
	now       func() time.Time
}

func NewDataGenerator(spec SensorSpec, seed int64) *DataGenerator {
	if spec.Max < spec.Min {
		spec.Min, spec.Max = spec.Max, spec.Min
	}
	if spec.Max == spec.Min {
		spec.Max = spec.Min + 100
	}
	if spec.Step <= 0 {
		spec.Step = (spec.Max - spec.Min) / 100
	}
	if spec.RatePerMin <= 0 {
		spec.RatePerMin = (spec.Max - spec.Min) / 10
	}
	start := spec.Start
	if start < spec.Min || start > spec.Max {
		start = spec.Min + (spec.Max-spec.Min)/2
	}
	return &DataGenerator{
		spec:  spec,
		value: start,
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
	}
}

func (g *DataGenerator) Spec() SensorSpec { return g.spec }

// Next advances the value and returns it.
func (g *DataGenerator) Next() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.last.IsZero() {
		g.last = now
	}
	dtMin := math.Max(0, now.Sub(g.last).Minutes())
	g.last = now

	if g.hasTarget {
		maxMove := g.spec.RatePerMin * dtMin
		diff := g.target - g.value
		if math.Abs(diff) <= maxMove {
			g.value = g.target
		} else {
			g.value += math.Copysign(maxMove, diff)
		}
	} else {
		g.value += (g.rng.Float64()*2 - 1) * g.spec.Step
	}
	g.value = clamp(g.value, g.spec.Min, g.spec.Max)
	return g.value
}

// SetTarget makes the value approach v, clamped to the sensor range.
func (g *DataGenerator) SetTarget(v float64) {
	g.mu.Lock()
	g.target = clamp(v, g.spec.Min, g.spec.Max)
	g.hasTarget = true
	g.mu.Unlock()
}

// ClearTarget returns the generator to a random walk.
func (g *DataGenerator) ClearTarget() {
	g.mu.Lock()
	g.hasTarget = false
	g.mu.Unlock()
}

func (g *DataGenerator) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
