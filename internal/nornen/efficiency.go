// Package nornen implements the responsibility router and efficiency/load
// scorer (spec.md §4.9-4.10): candidate selection over Odin's capability
// index, weighted multi-factor scoring, and a load-aware "take
// responsibility" offer/accept handshake.
package nornen

// Weights are the six efficiency-score factor weights, summing to 1.0.
// Grounded on original_source/geri/src/selection/efficiency.rs's
// EfficiencyWeights.
type Weights struct {
	ModelSize   float64
	Hardware    float64
	Reliability float64
	Latency     float64
	Distance    float64
	Cost        float64
}

// DefaultWeights matches spec.md §4.10's stated defaults.
func DefaultWeights() Weights {
	return Weights{
		ModelSize:   0.20,
		Hardware:    0.15,
		Reliability: 0.20,
		Latency:     0.25,
		Distance:    0.10,
		Cost:        0.10,
	}
}

// EfficiencyInput is the per-candidate input to the score calculator;
// every numeric field is a pointer so a missing input can be
// distinguished from an explicit zero, per spec.md §4.10's "all missing
// inputs default to 0.5" rule. Grounded on
// original_source/geri/src/selection/efficiency.rs's EfficiencyInput.
type EfficiencyInput struct {
	ParameterCount    *uint64
	MaxParameterCount uint64

	HardwareScore float64

	UptimePercentage *float64
	ErrorRate        *float64

	PingMS    *uint32
	MaxPingMS uint32

	DistanceKM    *float64
	MaxDistanceKM float64
	IsLocal       bool

	CostPerToken    *float64
	MaxCostPerToken float64
}

// ScoreCalculator computes the weighted six-factor efficiency score.
type ScoreCalculator struct {
	weights Weights
}

// NewScoreCalculator creates a calculator with the given weights.
func NewScoreCalculator(weights Weights) *ScoreCalculator {
	return &ScoreCalculator{weights: weights}
}

// Weights returns the weights in use.
func (c *ScoreCalculator) Weights() Weights { return c.weights }

// Calculate returns the overall score in [0,1].
func (c *ScoreCalculator) Calculate(in EfficiencyInput) float64 {
	return c.modelSizeScore(in)*c.weights.ModelSize +
		c.hardwareScore(in)*c.weights.Hardware +
		c.reliabilityScore(in)*c.weights.Reliability +
		c.latencyScore(in)*c.weights.Latency +
		c.distanceScore(in)*c.weights.Distance +
		c.costScore(in)*c.weights.Cost
}

func (c *ScoreCalculator) modelSizeScore(in EfficiencyInput) float64 {
	if in.ParameterCount == nil || in.MaxParameterCount == 0 {
		return 0.5
	}
	return min1(float64(*in.ParameterCount) / float64(in.MaxParameterCount))
}

func (c *ScoreCalculator) hardwareScore(in EfficiencyInput) float64 {
	return clamp01(in.HardwareScore)
}

func (c *ScoreCalculator) reliabilityScore(in EfficiencyInput) float64 {
	uptime := 50.0
	if in.UptimePercentage != nil {
		uptime = *in.UptimePercentage
	}
	errRate := 0.0
	if in.ErrorRate != nil {
		errRate = min1(*in.ErrorRate)
	}
	return clamp01((uptime / 100.0) * (1.0 - errRate))
}

func (c *ScoreCalculator) latencyScore(in EfficiencyInput) float64 {
	if in.PingMS == nil || in.MaxPingMS == 0 {
		return 0.5
	}
	return max0(1.0 - float64(*in.PingMS)/float64(in.MaxPingMS))
}

func (c *ScoreCalculator) distanceScore(in EfficiencyInput) float64 {
	if in.IsLocal {
		return 1.0
	}
	if in.DistanceKM == nil || in.MaxDistanceKM == 0 {
		return 0.5
	}
	return max0(1.0 - *in.DistanceKM/in.MaxDistanceKM)
}

func (c *ScoreCalculator) costScore(in EfficiencyInput) float64 {
	if in.CostPerToken == nil || in.MaxCostPerToken == 0 {
		return 0.5
	}
	return max0(1.0 - *in.CostPerToken/in.MaxCostPerToken)
}

func clamp01(v float64) float64 { return max0(min1(v)) }

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

func max0(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	return v
}
