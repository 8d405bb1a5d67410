// Package ml implements the isolation forest algorithm behind the anomaly
// detector. Scores follow the scikit-learn decision_function convention:
// negative values are anomalous, positive values are normal.
package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Fit and Score errors.
var (
	ErrNotFitted        = errors.New("ml: forest not fitted")
	ErrInsufficientData = errors.New("ml: need at least 2 training samples")
	ErrNoVariance       = errors.New("ml: training samples are all identical")
)

// Defaults mirror the classic isolation forest parameters.
const (
	defaultTrees         = 100
	defaultSampleCap     = 256
	defaultContamination = 0.05
	defaultSeed          = 42
)

// isolationTree is a single randomized binary tree. Leaves record how many
// training rows they absorbed so scoring can add the expected remaining depth.
type isolationTree struct {
	splitFeature int
	splitValue   float64
	left         *isolationTree
	right        *isolationTree
	size         int
	isLeaf       bool
}

// IsolationForest isolates anomalies by recursive random splitting: outliers
// separate from the bulk in fewer splits, so shorter average path lengths
// mean more anomalous points.
//
// A forest is safe for concurrent scoring after Fit returns. Fit itself must
// not run concurrently with Score.
type IsolationForest struct {
	numTrees      int
	subSampleSize int
	contamination float64
	seed          int64

	rng      *rand.Rand
	trees    []*isolationTree
	maxDepth int
	features int
	cNorm    float64
	offset   float64
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of trees in the ensemble.
func WithTrees(n int) Option {
	return func(f *IsolationForest) { f.numTrees = n }
}

// WithSampleSize sets the per-tree subsample size. Zero selects the classic
// default of min(256, number of training rows).
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) { f.subSampleSize = n }
}

// WithContamination sets the expected fraction of anomalies in the training
// data. It positions the decision boundary: roughly that share of the
// training set ends up with a negative Score.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) { f.contamination = c }
}

// WithSeed seeds the random source so fits are reproducible.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) { f.seed = seed }
}

// NewIsolationForest creates a forest with the given options. Unset options
// fall back to the classic parameters: 100 trees, subsamples capped at 256,
// 5% contamination, seed 42.
func NewIsolationForest(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		numTrees:      defaultTrees,
		contamination: defaultContamination,
		seed:          defaultSeed,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.rng = rand.New(rand.NewSource(f.seed))
	return f
}

// Fit trains the forest on data, one row per sample. It replaces any
// previously fitted model and calibrates the score offset so that the
// contamination share of training rows scores below zero.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) < 2 {
		return ErrInsufficientData
	}
	width := len(data[0])
	if width == 0 {
		return errors.New("ml: training samples have no features")
	}
	for i, row := range data {
		if len(row) != width {
			return fmt.Errorf("ml: sample %d has %d features, want %d", i, len(row), width)
		}
	}
	if f.numTrees < 1 {
		return fmt.Errorf("ml: forest needs at least one tree, have %d", f.numTrees)
	}
	if f.contamination <= 0 || f.contamination > 0.5 {
		return fmt.Errorf("ml: contamination %v outside (0, 0.5]", f.contamination)
	}
	if allIdentical(data) {
		return ErrNoVariance
	}

	psi := f.subSampleSize
	if psi <= 0 {
		psi = defaultSampleCap
	}
	if psi > len(data) {
		psi = len(data)
	}

	f.features = width
	f.maxDepth = int(math.Ceil(math.Log2(float64(psi))))
	f.cNorm = averagePathLength(psi)

	trees := make([]*isolationTree, 0, f.numTrees)
	for i := 0; i < f.numTrees; i++ {
		sample := f.sampleRows(data, psi)
		trees = append(trees, f.buildTree(sample, 0))
	}
	f.trees = trees

	// The offset is the contamination-quantile of -s(x) over the training
	// set, which places the zero crossing of Score at that quantile.
	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = -f.anomalyScore(row)
	}
	sort.Float64s(scores)
	f.offset = quantile(scores, f.contamination)

	return nil
}

// Score returns the signed anomaly score -s(x) - offset for one sample.
// Negative scores are anomalous, positive scores are normal, and magnitude
// grows with how isolated the sample is.
func (f *IsolationForest) Score(sample []float64) (float64, error) {
	if len(f.trees) == 0 {
		return 0, ErrNotFitted
	}
	if len(sample) != f.features {
		return 0, fmt.Errorf("ml: sample has %d features, model trained on %d", len(sample), f.features)
	}
	return -f.anomalyScore(sample) - f.offset, nil
}

// Offset reports the calibrated score offset from the last successful fit.
func (f *IsolationForest) Offset() float64 {
	return f.offset
}

// anomalyScore computes s(x) from the isolation forest paper:
// s(x) = 2^(-E[h(x)] / c(psi)), in (0, 1], higher is more anomalous.
func (f *IsolationForest) anomalyScore(x []float64) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += f.pathLength(tree, x, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/f.cNorm)
}

// sampleRows shuffles the row order and takes the first psi rows.
func (f *IsolationForest) sampleRows(data [][]float64, psi int) [][]float64 {
	shuffled := make([][]float64, len(data))
	copy(shuffled, data)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:psi]
}

// buildTree recursively builds an isolation tree.
func (f *IsolationForest) buildTree(rows [][]float64, depth int) *isolationTree {
	if len(rows) <= 1 || depth >= f.maxDepth || allIdentical(rows) {
		return &isolationTree{size: len(rows), isLeaf: true}
	}

	splitFeature := f.rng.Intn(f.features)
	minVal, maxVal := featureRange(rows, splitFeature)
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	left, right := splitRows(rows, splitFeature, splitValue)

	// If the split did not partition the rows, close them out as a leaf.
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{size: len(rows), isLeaf: true}
	}

	return &isolationTree{
		splitFeature: splitFeature,
		splitValue:   splitValue,
		left:         f.buildTree(left, depth+1),
		right:        f.buildTree(right, depth+1),
		size:         len(rows),
		isLeaf:       false,
	}
}

// pathLength walks x down one tree. Leaves holding more than one row add the
// expected depth of the subtree that was never built below them.
func (f *IsolationForest) pathLength(node *isolationTree, x []float64, depth int) float64 {
	if node.isLeaf {
		return float64(depth) + averagePathLength(node.size)
	}
	if x[node.splitFeature] < node.splitValue {
		return f.pathLength(node.left, x, depth+1)
	}
	return f.pathLength(node.right, x, depth+1)
}

// averagePathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree over n rows:
// c(n) = 2H(n-1) - (2(n-1)/n)
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonicNumber(n-1) - (2 * float64(n-1) / float64(n))
}

// harmonicNumber approximates H(n) as ln(n) + 0.5772156649 (Euler-Mascheroni).
func harmonicNumber(n int) float64 {
	return math.Log(float64(n)) + 0.5772156649
}

// allIdentical reports whether every row matches the first within 1e-10.
func allIdentical(rows [][]float64) bool {
	if len(rows) <= 1 {
		return true
	}
	first := rows[0]
	for i := 1; i < len(rows); i++ {
		for j := range first {
			if math.Abs(rows[i][j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

// featureRange returns the min and max values of one feature across rows.
func featureRange(rows [][]float64, feature int) (float64, float64) {
	minVal := rows[0][feature]
	maxVal := rows[0][feature]
	for _, row := range rows {
		val := row[feature]
		if val < minVal {
			minVal = val
		}
		if val > maxVal {
			maxVal = val
		}
	}
	return minVal, maxVal
}

// splitRows partitions rows on feature < splitValue.
func splitRows(rows [][]float64, feature int, splitValue float64) ([][]float64, [][]float64) {
	left := make([][]float64, 0, len(rows))
	right := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}

// quantile interpolates linearly between order statistics, matching numpy's
// default percentile method. sorted must be ascending and non-empty.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
