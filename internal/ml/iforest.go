package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649

// ForestConfig controls Isolation Forest construction.
type ForestConfig struct {
	Trees      int `yaml:"trees"`
	SampleSize int `yaml:"sampleSize"`
}

// DefaultForestConfig returns 100 trees over 256-point subsamples.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 100, SampleSize: 256}
}

// ErrEmptyTrainingSet is returned when Fit receives no rows.
var ErrEmptyTrainingSet = errors.New("training set is empty")

type itreeNode struct {
	feature int
	split   float64
	left    *itreeNode
	right   *itreeNode
	// size is set on leaves only.
	size int
}

func (n *itreeNode) isLeaf() bool { return n.left == nil && n.right == nil }

// Forest is an immutable trained Isolation Forest.
type Forest struct {
	trees      []*itreeNode
	sampleSize int
	dims       int
	norm       float64
}

// Fit trains a forest on rows of equal length using rng for every random choice.
func Fit(data [][]float64, cfg ForestConfig, rng *rand.Rand) (*Forest, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	dims := len(data[0])
	for i, row := range data {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), dims)
		}
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultForestConfig().Trees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultForestConfig().SampleSize
	}
	sampleSize := cfg.SampleSize
	if sampleSize > len(data) {
		sampleSize = len(data)
	}
	depthLimit := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	f := &Forest{
		trees:      make([]*itreeNode, 0, cfg.Trees),
		sampleSize: sampleSize,
		dims:       dims,
		norm:       averagePathLength(sampleSize),
	}
	for t := 0; t < cfg.Trees; t++ {
		sample := subsample(data, sampleSize, rng)
		f.trees = append(f.trees, buildTree(sample, 0, depthLimit, dims, rng))
	}
	return f, nil
}

// Score returns the anomaly score in (0,1]: shorter average isolation paths score closer to 1,
// and a score around 0.5 or below indicates an ordinary point.
func (f *Forest) Score(x []float64) (float64, error) {
	if len(x) != f.dims {
		return 0, fmt.Errorf("sample has %d features, expected %d", len(x), f.dims)
	}
	if f.norm == 0 {
		return 0.5, nil
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(x, tree, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/f.norm), nil
}

// Trees returns the number of trees.
func (f *Forest) Trees() int { return len(f.trees) }

func subsample(data [][]float64, n int, rng *rand.Rand) [][]float64 {
	if n >= len(data) {
		out := make([][]float64, len(data))
		copy(out, data)
		return out
	}
	idx := rng.Perm(len(data))[:n]
	out := make([][]float64, 0, n)
	for _, i := range idx {
		out = append(out, data[i])
	}
	return out
}

func buildTree(rows [][]float64, depth, limit, dims int, rng *rand.Rand) *itreeNode {
	if depth >= limit || len(rows) <= 1 {
		return &itreeNode{size: len(rows)}
	}

	// Only features that still vary inside this node can split it.
	candidates := make([]int, 0, dims)
	mins := make([]float64, dims)
	maxs := make([]float64, dims)
	for d := 0; d < dims; d++ {
		lo, hi := rows[0][d], rows[0][d]
		for _, row := range rows[1:] {
			lo = math.Min(lo, row[d])
			hi = math.Max(hi, row[d])
		}
		mins[d], maxs[d] = lo, hi
		if hi > lo {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &itreeNode{size: len(rows)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := mins[feature] + rng.Float64()*(maxs[feature]-mins[feature])

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &itreeNode{
		feature: feature,
		split:   split,
		left:    buildTree(left, depth+1, limit, dims, rng),
		right:   buildTree(right, depth+1, limit, dims, rng),
	}
}

func pathLength(x []float64, node *itreeNode, depth int) float64 {
	for !node.isLeaf() {
		if x[node.feature] < node.split {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(node.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
