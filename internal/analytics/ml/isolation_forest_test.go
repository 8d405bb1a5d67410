package ml

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
)

// clusterRows builds n rows jittered around center by up to spread per feature.
func clusterRows(rng *rand.Rand, n int, center []float64, spread float64) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, len(center))
		for j, c := range center {
			row[j] = c + (rng.Float64()*2-1)*spread
		}
		rows[i] = row
	}
	return rows
}

func TestFitRejectsDegenerateInput(t *testing.T) {
	forest := NewIsolationForest()

	if err := forest.Fit(nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Fit(nil) = %v, want ErrInsufficientData", err)
	}
	if err := forest.Fit([][]float64{{1, 2}}); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Fit with one row = %v, want ErrInsufficientData", err)
	}

	identical := [][]float64{{1, 2, 3}, {1, 2, 3}, {1, 2, 3}}
	if err := forest.Fit(identical); !errors.Is(err, ErrNoVariance) {
		t.Fatalf("Fit with identical rows = %v, want ErrNoVariance", err)
	}

	ragged := [][]float64{{1, 2}, {1, 2, 3}}
	if err := forest.Fit(ragged); err == nil {
		t.Fatal("Fit with ragged rows should error")
	}

	if _, err := forest.Score([]float64{1, 2, 3}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("Score before any successful fit = %v, want ErrNotFitted", err)
	}
}

func TestScoreSeparatesOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	center := []float64{35, 60, 2, 1, 0.5, 0.8, 2400}
	train := clusterRows(rng, 200, center, 3)

	forest := NewIsolationForest(WithTrees(100), WithContamination(0.05), WithSeed(42))
	if err := forest.Fit(train); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	normal, err := forest.Score(center)
	if err != nil {
		t.Fatalf("Score(normal): %v", err)
	}
	outlier, err := forest.Score([]float64{98, 97, 400, 380, 300, 310, 2400})
	if err != nil {
		t.Fatalf("Score(outlier): %v", err)
	}

	if normal <= 0 {
		t.Errorf("cluster center scored %f, want positive (normal)", normal)
	}
	if outlier >= 0 {
		t.Errorf("far outlier scored %f, want negative (anomalous)", outlier)
	}
	if outlier >= normal {
		t.Errorf("outlier score %f should sit below normal score %f", outlier, normal)
	}
}

func TestDeterministicFits(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	center := []float64{40, 55, 3, 2, 1, 1, 3000}
	train := clusterRows(rng, 150, center, 5)
	probes := clusterRows(rng, 10, center, 50)

	a := NewIsolationForest(WithTrees(50), WithSampleSize(64), WithSeed(42))
	b := NewIsolationForest(WithTrees(50), WithSampleSize(64), WithSeed(42))
	if err := a.Fit(train); err != nil {
		t.Fatalf("Fit a: %v", err)
	}
	if err := b.Fit(train); err != nil {
		t.Fatalf("Fit b: %v", err)
	}

	if a.Offset() != b.Offset() {
		t.Errorf("offsets differ: %f vs %f", a.Offset(), b.Offset())
	}
	for i, probe := range probes {
		sa, err := a.Score(probe)
		if err != nil {
			t.Fatalf("Score a: %v", err)
		}
		sb, err := b.Score(probe)
		if err != nil {
			t.Fatalf("Score b: %v", err)
		}
		if sa != sb {
			t.Errorf("probe %d: scores differ: %f vs %f", i, sa, sb)
		}
	}
}

func TestContaminationSetsBoundary(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	train := clusterRows(rng, 200, []float64{50, 50, 1, 1, 1, 1, 2000}, 10)

	forest := NewIsolationForest(WithTrees(100), WithContamination(0.1), WithSeed(42))
	if err := forest.Fit(train); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	below := 0
	for _, row := range train {
		score, err := forest.Score(row)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if score < 0 {
			below++
		}
	}

	frac := float64(below) / float64(len(train))
	if frac < 0.05 || frac > 0.15 {
		t.Errorf("%.1f%% of training rows scored below zero, want roughly 10%%", frac*100)
	}
}

func TestRefitReplacesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	low := clusterRows(rng, 100, []float64{10, 20, 1, 1, 0.2, 0.2, 1200}, 2)
	high := clusterRows(rng, 100, []float64{80, 90, 30, 25, 40, 45, 3200}, 2)

	forest := NewIsolationForest(WithTrees(50), WithSeed(42))
	if err := forest.Fit(low); err != nil {
		t.Fatalf("first Fit: %v", err)
	}

	probe := []float64{80, 90, 30, 25, 40, 45, 3200}
	before, err := forest.Score(probe)
	if err != nil {
		t.Fatalf("Score before refit: %v", err)
	}
	if before >= 0 {
		t.Fatalf("high-load probe scored %f against low-load model, want negative", before)
	}

	if err := forest.Fit(high); err != nil {
		t.Fatalf("second Fit: %v", err)
	}
	after, err := forest.Score(probe)
	if err != nil {
		t.Fatalf("Score after refit: %v", err)
	}
	if after <= 0 {
		t.Errorf("high-load probe scored %f after refit on high-load data, want positive", after)
	}
}

func TestScoreRejectsWidthMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	forest := NewIsolationForest(WithTrees(20), WithSeed(42))
	if err := forest.Fit(clusterRows(rng, 50, []float64{1, 2, 3}, 0.5)); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := forest.Score([]float64{1, 2}); err == nil {
		t.Fatal("Score with wrong feature count should error")
	}
}

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0},
		{2, 1},
		{10, 3.7489},
		{256, 10.2448},
	}

	for _, tt := range tests {
		got := averagePathLength(tt.n)
		if math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("averagePathLength(%d) = %f, want %f", tt.n, got, tt.want)
		}
	}
}

func TestConcurrentScoring(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	train := clusterRows(rng, 200, []float64{30, 40, 2, 2, 1, 1, 2600}, 4)

	forest := NewIsolationForest(WithTrees(50), WithSeed(42))
	if err := forest.Fit(train); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	probe := []float64{30, 40, 2, 2, 1, 1, 2600}
	want, err := forest.Score(probe)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := forest.Score(probe)
				if err != nil || got != want {
					t.Errorf("concurrent Score = %f, %v, want %f", got, err, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func BenchmarkFit(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	train := clusterRows(rng, 1000, []float64{40, 60, 3, 2, 1, 1, 2800}, 8)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		forest := NewIsolationForest(WithTrees(100), WithSampleSize(256), WithSeed(42))
		if err := forest.Fit(train); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScore(b *testing.B) {
	rng := rand.New(rand.NewSource(8))
	train := clusterRows(rng, 1000, []float64{40, 60, 3, 2, 1, 1, 2800}, 8)

	forest := NewIsolationForest(WithTrees(100), WithSampleSize(256), WithSeed(42))
	if err := forest.Fit(train); err != nil {
		b.Fatal(err)
	}
	probe := []float64{90, 95, 80, 75, 60, 66, 2800}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := forest.Score(probe); err != nil {
			b.Fatal(err)
		}
	}
}
