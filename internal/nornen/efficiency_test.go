package nornen

import "testing"

func u64p(v uint64) *uint64   { return &v }
func u32p(v uint32) *uint32   { return &v }
func f64p(v float64) *float64 { return &v }

func fullInput() EfficiencyInput {
	return EfficiencyInput{
		ParameterCount:    u64p(8_000_000_000),
		MaxParameterCount: 70_000_000_000,
		HardwareScore:     1.0,
		UptimePercentage:  f64p(99.0),
		ErrorRate:         f64p(0.01),
		PingMS:            u32p(50),
		MaxPingMS:         1000,
		DistanceKM:        f64p(0.0),
		MaxDistanceKM:     10_000.0,
		IsLocal:           true,
		CostPerToken:      f64p(0.00001),
		MaxCostPerToken:   0.001,
	}
}

func TestCalculateWithinBounds(t *testing.T) {
	calc := NewScoreCalculator(DefaultWeights())
	score := calc.Calculate(fullInput())
	if score < 0 || score > 1 {
		t.Fatalf("expected score in [0,1], got %f", score)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	sum := w.ModelSize + w.Hardware + w.Reliability + w.Latency + w.Distance + w.Cost
	if diff := sum - 1.0; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected weights to sum to 1.0, got %f", sum)
	}
}

func TestModelSizeScoreHigherForLargerModel(t *testing.T) {
	calc := NewScoreCalculator(DefaultWeights())
	big := fullInput()
	big.ParameterCount = u64p(70_000_000_000)
	small := fullInput()
	small.ParameterCount = u64p(1_000_000_000)
	small.MaxParameterCount = 70_000_000_000
	if calc.Calculate(big) <= calc.Calculate(small) {
		t.Fatalf("expected larger model to score higher")
	}
}

func TestLatencyScoreHigherForLowerPing(t *testing.T) {
	calc := NewScoreCalculator(DefaultWeights())
	fast := fullInput()
	fast.PingMS = u32p(10)
	slow := fullInput()
	slow.PingMS = u32p(900)
	if calc.Calculate(fast) <= calc.Calculate(slow) {
		t.Fatalf("expected lower ping to score higher")
	}
}

func TestDistanceScoreLocalIsMax(t *testing.T) {
	calc := NewScoreCalculator(DefaultWeights())
	local := fullInput()
	local.IsLocal = true
	remote := fullInput()
	remote.IsLocal = false
	remote.DistanceKM = f64p(5000.0)
	if calc.Calculate(local) <= calc.Calculate(remote) {
		t.Fatalf("expected local to score higher than remote")
	}
}

func TestMissingOptionalsDefaultToHalf(t *testing.T) {
	calc := NewScoreCalculator(DefaultWeights())
	in := EfficiencyInput{
		MaxParameterCount: 1,
		HardwareScore:     0.5,
		MaxPingMS:         1000,
		MaxDistanceKM:     10_000.0,
		MaxCostPerToken:   1.0,
	}
	score := calc.Calculate(in)
	if score < 0 || score > 1 {
		t.Fatalf("expected score in [0,1] with all-missing optionals, got %f", score)
	}
	// every factor defaults to 0.5 except hardware (explicit 0.5), so the
	// overall score should itself be exactly 0.5.
	if diff := score - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected score of exactly 0.5 when every optional is missing, got %f", score)
	}
}
