package budget

import (
	"math"
)

// Distribution describes how the tree usage of a shared cache is spread
// over its tenants.
type Distribution struct {
	Tenants      int     `json:"tenants" yaml:"tenants"`
	Min          float64 `json:"min" yaml:"min"`
	Max          float64 `json:"max" yaml:"max"`
	Mean         float64 `json:"mean" yaml:"mean"`
	StdDeviation float64 `json:"std_deviation" yaml:"std_deviation"`
	MinMaxRatio  float64 `json:"min_max_ratio" yaml:"min_max_ratio"`
	// Quality is 1 for an even spread and approaches 0 when one tenant holds
	// nearly all of the cache
	Quality float64 `json:"quality" yaml:"quality"`
}

// Distribution returns the spread of tree usage over the tenants
func (s *Shared) Distribution() Distribution {
	shares := s.Shares()
	usages := make([]float64, len(shares))
	for i, share := range shares {
		usages[i] = float64(share.Usage)
	}
	return newDistribution(usages)
}

func newDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}

	d := Distribution{Tenants: len(values), Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		d.Min = math.Min(d.Min, v)
		d.Max = math.Max(d.Max, v)
	}
	d.Mean = sum / float64(len(values))

	var squares float64
	for _, v := range values {
		diff := v - d.Mean
		squares += diff * diff
	}
	d.StdDeviation = math.Sqrt(squares / float64(len(values)))

	d.MinMaxRatio = 1
	if d.Max > 0 {
		d.MinMaxRatio = d.Min / d.Max
	}

	// coefficient of variation and min/max ratio weigh equally
	var cv float64
	if d.Mean > 0 {
		cv = d.StdDeviation / d.Mean
	}
	d.Quality = (1-math.Min(1, cv))*0.5 + d.MinMaxRatio*0.5
	return d
}
