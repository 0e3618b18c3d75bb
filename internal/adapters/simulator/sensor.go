package simulator

import (
	"math"
	"math/rand"
)

// SensorParams shape the random walk of one simulated node.
type SensorParams struct {
	Mean              float64
	StandardDeviation float64
}

// sensor walks around its mean, drifting back once it strays too far.
type sensor struct {
	mean    float64
	stdDev  float64
	current float64
	rng     *rand.Rand
}

func newSensor(p SensorParams, rng *rand.Rand) *sensor {
	return &sensor{
		mean:    p.Mean,
		stdDev:  math.Abs(p.StandardDeviation),
		current: p.Mean - rng.Float64(),
		rng:     rng,
	}
}

func (s *sensor) next() float64 {
	change := s.rng.Float64() * s.stdDev / 10
	s.current += change * s.direction()
	return s.current
}

func (s *sensor) direction() float64 {
	var distance, keep, flip float64
	if s.current > s.mean {
		distance, keep, flip = s.current-s.mean, 1, -1
	} else {
		distance, keep, flip = s.mean-s.current, -1, 1
	}
	// at distance zero the walk is a coin flip; the pull towards the mean
	// grows with distance
	chance := s.stdDev/2 - distance/50
	if s.stdDev*s.rng.Float64() < chance {
		return keep
	}
	return flip
}
