package control

import (
	"testing"
	"time"
)

func testSystem(targetMspt, minTps float64) (*System, *time.Time) {
	s := New(targetMspt, minTps)
	t0 := time.Unix(2000, 0)
	now := &t0
	s.now = func() time.Time { return *now }
	return s, now
}

func advance(now *time.Time, d time.Duration) { *now = now.Add(d) }

func TestInitialOutputNeutral(t *testing.T) {
	s, _ := testSystem(45.0, 19.5)
	out := s.Output()
	if out != (Output{}) {
		t.Fatalf("initial output not neutral: %v", out)
	}
}

func TestEmergencyOverridePath(t *testing.T) {
	// target=45ms, minTps=19.5; mspt=80 > 1.5*45 and tps=10 < 0.8*19.5:
	// both overrides fire.
	s, _ := testSystem(45.0, 19.5)
	s.Update(80.0, 10.0, 15, 3000)

	out := s.Output()
	if !out.AggressiveUnload {
		t.Fatalf("aggressive unload not forced: %v", out)
	}
	if out.ViewDistanceDelta > -2 {
		t.Fatalf("view distance delta: got %d want <= -2", out.ViewDistanceDelta)
	}
	if out.ChunkBudgetDelta > -4 {
		t.Fatalf("chunk budget delta: got %d want <= -4", out.ChunkBudgetDelta)
	}
}

func TestAggressiveUnloadOnEitherSignal(t *testing.T) {
	// MSPT alone over 1.5x target.
	s, _ := testSystem(45.0, 19.5)
	s.Update(70.0, 20.0, 1, 10)
	if !s.Output().AggressiveUnload {
		t.Fatalf("mspt override did not set aggressive unload")
	}

	// TPS alone below 0.8x minimum.
	s2, _ := testSystem(45.0, 19.5)
	s2.Update(30.0, 15.0, 1, 10)
	if !s2.Output().AggressiveUnload {
		t.Fatalf("tps override did not set aggressive unload")
	}
}

func TestOutputAlwaysWithinClampBounds(t *testing.T) {
	inputs := []struct{ mspt, tps float64 }{
		{0, 0}, {1e6, 0}, {0, 1e6}, {200, 5}, {45, 19.5}, {1, 100},
	}
	for _, in := range inputs {
		s, now := testSystem(45.0, 19.5)
		// Multiple spaced updates so integral and derivative kick in.
		for i := 0; i < 5; i++ {
			s.Update(in.mspt, in.tps, 100, 10000)
			advance(now, 3*time.Second)
		}
		out := s.Output()
		if out.ViewDistanceDelta < -3 || out.ViewDistanceDelta > 3 {
			t.Fatalf("view distance out of bounds for %v: %v", in, out)
		}
		if out.ChunkBudgetDelta < -10 || out.ChunkBudgetDelta > 10 {
			t.Fatalf("chunk budget out of bounds for %v: %v", in, out)
		}
		if out.RandomTickRatioDelta < -0.5 || out.RandomTickRatioDelta > 0.5 {
			t.Fatalf("random tick ratio out of bounds for %v: %v", in, out)
		}
	}
}

func TestUpdatesInsideMinIntervalAreNoOps(t *testing.T) {
	s, now := testSystem(45.0, 19.5)
	s.Update(80.0, 10.0, 5, 100)
	first := s.Output()

	// Within the 2-second window: ignored no matter how healthy the
	// numbers look.
	advance(now, 500*time.Millisecond)
	s.Update(10.0, 20.0, 0, 0)
	advance(now, 500*time.Millisecond)
	s.Update(10.0, 20.0, 0, 0)

	if got := s.Output(); got != first {
		t.Fatalf("output changed inside min interval: %v -> %v", first, got)
	}
	if st := s.Stats(0); st.Samples != 1 {
		t.Fatalf("samples recorded inside min interval: %d", st.Samples)
	}

	// After the window the update lands.
	advance(now, 2*time.Second)
	s.Update(10.0, 20.0, 0, 0)
	if got := s.Output(); got == first {
		t.Fatalf("output unchanged after interval elapsed")
	}
}

func TestSustainedOverloadReducesLoad(t *testing.T) {
	s, now := testSystem(45.0, 19.5)
	// Moderately bad but below the emergency floors: mspt 65 (1.44x),
	// tps 17 (0.87x). The integral accumulates until the smooth path
	// reacts.
	for i := 0; i < 20; i++ {
		s.Update(65.0, 17.0, 5, 1000)
		advance(now, 5*time.Second)
	}
	out := s.Output()
	if out.ViewDistanceDelta >= 0 || out.ChunkBudgetDelta >= 0 {
		t.Fatalf("sustained overload produced no reduction: %v", out)
	}
}

func TestSustainedHealthRaisesLoad(t *testing.T) {
	s, now := testSystem(45.0, 19.5)
	// Healthy on both axes: errors strongly negative, integral drives the
	// output below the -0.3 threshold. Both dimensions must be well clear
	// of target since the worse one dominates.
	for i := 0; i < 20; i++ {
		s.Update(15.0, 30.0, 1, 100)
		advance(now, 5*time.Second)
	}
	out := s.Output()
	if out.ViewDistanceDelta <= 0 || out.ChunkBudgetDelta <= 0 {
		t.Fatalf("sustained health produced no increase: %v", out)
	}
	if out.AggressiveUnload {
		t.Fatalf("aggressive unload set while healthy")
	}
}

func TestWorseDimensionDominates(t *testing.T) {
	s, _ := testSystem(45.0, 19.5)
	// MSPT is excellent but TPS collapsed; the bad dimension must win.
	s.Update(10.0, 12.0, 1, 10)
	out := s.Output()
	if !out.AggressiveUnload {
		t.Fatalf("bad tps masked by good mspt: %v", out)
	}
}

func TestStatsWindow(t *testing.T) {
	s, now := testSystem(45.0, 19.5)
	s.Update(40.0, 19.0, 5, 1000)
	advance(now, 3*time.Second)
	s.Update(50.0, 18.0, 6, 1200)
	advance(now, 3*time.Second)
	s.Update(35.0, 20.0, 4, 900)

	st := s.Stats(0)
	if st.Samples != 3 {
		t.Fatalf("samples: got %d want 3", st.Samples)
	}
	if st.MinMspt != 35 || st.MaxMspt != 50 {
		t.Fatalf("mspt range: [%v,%v]", st.MinMspt, st.MaxMspt)
	}
	if st.MinTps != 18 || st.MaxTps != 20 {
		t.Fatalf("tps range: [%v,%v]", st.MinTps, st.MaxTps)
	}

	// Narrow window keeps only the newest sample.
	recent := s.Stats(2 * time.Second)
	if recent.Samples != 1 || recent.AvgMspt != 35 {
		t.Fatalf("windowed stats: %+v", recent)
	}
}

func TestSampleWindowBounded(t *testing.T) {
	s, now := testSystem(45.0, 19.5)
	for i := 0; i < 3*maxSamples; i++ {
		s.Update(50.0, 18.0, 1, 100)
		advance(now, 3*time.Second)
	}
	if st := s.Stats(0); st.Samples != maxSamples {
		t.Fatalf("window size: got %d want %d", st.Samples, maxSamples)
	}
}

func TestResetIdempotent(t *testing.T) {
	s, now := testSystem(45.0, 19.5)
	s.Update(80.0, 10.0, 5, 1000)
	advance(now, 3*time.Second)
	s.Update(80.0, 10.0, 5, 1000)

	s.Reset()
	first := s.Output()
	if first != (Output{}) {
		t.Fatalf("output after reset: %v", first)
	}
	if st := s.Stats(0); st.Samples != 0 {
		t.Fatalf("samples after reset: %d", st.Samples)
	}

	s.Reset()
	if got := s.Output(); got != first {
		t.Fatalf("second reset diverged: %v", got)
	}
}
