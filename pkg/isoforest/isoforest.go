// Package isoforest implements the Isolation Forest outlier model
// (Liu, Ting & Zhou, 2008).
//
// Points are isolated by recursively partitioning random subsamples on a
// random feature at a random split value. Outliers need fewer splits to
// isolate, so a short average path length across the forest means a high
// anomaly score.
package isoforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

const (
	// DefaultTrees is the number of trees grown when none is configured.
	DefaultTrees = 100

	// DefaultSampleSize is the per-tree subsample size when none is configured.
	DefaultSampleSize = 256

	eulerGamma = 0.5772156649015329
)

// ErrNoData is returned when fitting on an empty feature set.
var ErrNoData = errors.New("isoforest: no data")

// Forest holds the model hyper-parameters. The zero value is not usable;
// create one with New.
type Forest struct {
	trees      int
	sampleSize int
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		if n > 0 {
			f.trees = n
		}
	}
}

// WithSampleSize sets the per-tree subsample size.
func WithSampleSize(n int) Option {
	return func(f *Forest) {
		if n > 1 {
			f.sampleSize = n
		}
	}
}

// New returns a Forest with default hyper-parameters adjusted by opts.
func New(opts ...Option) *Forest {
	f := &Forest{
		trees:      DefaultTrees,
		sampleSize: DefaultSampleSize,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Model is a fitted forest.
type Model struct {
	trees      []*node
	sampleSize int
}

type node struct {
	feature int
	split   float64
	left    *node
	right   *node
	// size is the number of training points that reached a leaf.
	size int
}

func (n *node) leaf() bool {
	return n.left == nil
}

// Fit grows the forest on features. Every row must have the same width.
func (f *Forest) Fit(features [][]float64, seed int64) (*Model, error) {
	if len(features) == 0 {
		return nil, ErrNoData
	}

	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return nil, fmt.Errorf(
				"isoforest: row %d has %d features, expected %d", i, len(row), width,
			)
		}
	}

	psi := f.sampleSize
	if psi > len(features) {
		psi = len(features)
	}

	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))

	m := &Model{
		trees:      make([]*node, 0, f.trees),
		sampleSize: psi,
	}

	for t := 0; t < f.trees; t++ {
		sample := rng.Perm(len(features))[:psi]
		points := make([][]float64, psi)

		for i, idx := range sample {
			points[i] = features[idx]
		}

		m.trees = append(m.trees, grow(rng, points, 0, limit))
	}

	return m, nil
}

// grow builds an isolation tree over points.
func grow(rng *rand.Rand, points [][]float64, depth, limit int) *node {
	if depth >= limit || len(points) <= 1 {
		return &node{size: len(points)}
	}

	// Only features with spread can split the node.
	width := len(points[0])
	candidates := make([]int, 0, width)
	lows := make([]float64, width)
	highs := make([]float64, width)

	for c := 0; c < width; c++ {
		lo, hi := points[0][c], points[0][c]
		for _, p := range points[1:] {
			lo = math.Min(lo, p[c])
			hi = math.Max(hi, p[c])
		}

		lows[c], highs[c] = lo, hi

		if hi > lo {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		return &node{size: len(points)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	split := lows[feature] + rng.Float64()*(highs[feature]-lows[feature])

	var left, right [][]float64

	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	return &node{
		feature: feature,
		split:   split,
		left:    grow(rng, left, depth+1, limit),
		right:   grow(rng, right, depth+1, limit),
	}
}

// pathLength returns the isolation depth of x in the tree, with the
// expected remaining depth added at leaves holding several points.
func pathLength(n *node, x []float64) float64 {
	depth := 0.0

	for !n.leaf() {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}

		depth++
	}

	return depth + averagePathLength(n.size)
}

// averagePathLength is c(n), the average path length of an unsuccessful
// binary search tree lookup over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}

	fn := float64(n)

	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// Score returns the anomaly score of x in (0,1]. Scores close to 1 are
// outliers, scores well below 0.5 are normal.
func (m *Model) Score(x []float64) float64 {
	if len(m.trees) == 0 {
		return 0
	}

	var total float64
	for _, t := range m.trees {
		total += pathLength(t, x)
	}

	mean := total / float64(len(m.trees))

	c := averagePathLength(m.sampleSize)
	if c == 0 {
		return 0
	}

	return math.Pow(2, -mean/c)
}

// Scores returns the anomaly score of every row.
func (m *Model) Scores(features [][]float64) []float64 {
	out := make([]float64, len(features))
	for i, row := range features {
		out[i] = m.Score(row)
	}

	return out
}

// FitPredict fits the forest on features and flags the contamination
// fraction with the highest anomaly scores as outliers.
func (f *Forest) FitPredict(
	features [][]float64, contamination float64, seed int64,
) ([]bool, error) {
	if !(contamination > 0 && contamination < 1) {
		return nil, fmt.Errorf(
			"isoforest: contamination must be in (0,1), got %v", contamination,
		)
	}

	m, err := f.Fit(features, seed)
	if err != nil {
		return nil, err
	}

	return Threshold(m.Scores(features), contamination), nil
}

// Threshold flags the ceil(contamination*n) highest scores as outliers. A
// score is only flagged when it is strictly greater than the highest
// remaining inlier score, so ties straddling the cut-off are all inliers.
func Threshold(scores []float64, contamination float64) []bool {
	flags := make([]bool, len(scores))

	k := int(math.Ceil(contamination * float64(len(scores))))
	if k <= 0 || len(scores) == 0 {
		return flags
	}

	if k >= len(scores) {
		k = len(scores) - 1
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	boundary := sorted[k]

	for i, s := range scores {
		flags[i] = s > boundary
	}

	return flags
}
