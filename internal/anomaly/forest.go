package anomaly

import (
	"math"
	"math/rand"
)

// Forest is an isolation forest: an ensemble of random binary trees
// where anomalous points isolate near the root. Exported fields keep
// the fitted model JSON-serializable as part of the saved artifact.
type Forest struct {
	Trees      []*forestNode `json:"trees"`
	NumTrees   int           `json:"num_trees"`
	SampleSize int           `json:"sample_size"`
	HeightLim  int           `json:"height_limit"`
}

type forestNode struct {
	Leaf     bool        `json:"leaf"`
	Size     int         `json:"size,omitempty"`
	Dim      int         `json:"dim,omitempty"`
	SplitVal float64     `json:"split_val,omitempty"`
	Left     *forestNode `json:"left,omitempty"`
	Right    *forestNode `json:"right,omitempty"`
}

// NewForest creates an unfitted forest.
func NewForest(numTrees, sampleSize int) *Forest {
	if numTrees <= 0 {
		numTrees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 256
	}
	return &Forest{
		NumTrees:   numTrees,
		SampleSize: sampleSize,
		HeightLim:  int(math.Ceil(math.Log2(float64(sampleSize)))),
	}
}

// Fit builds the tree ensemble over the given rows. The caller supplies
// the random source so training runs are reproducible.
func (f *Forest) Fit(rows [][]float64, rng *rand.Rand) {
	f.Trees = make([]*forestNode, f.NumTrees)
	n := len(rows)
	m := f.SampleSize
	if m > n {
		m = n
	}
	for i := 0; i < f.NumTrees; i++ {
		idxs := rng.Perm(n)
		sample := make([][]float64, m)
		for j := 0; j < m; j++ {
			sample[j] = rows[idxs[j]]
		}
		f.Trees[i] = buildNode(sample, 0, f.HeightLim, rng)
	}
}

func buildNode(rows [][]float64, height, limit int, rng *rand.Rand) *forestNode {
	if len(rows) <= 1 || height >= limit {
		return &forestNode{Leaf: true, Size: len(rows)}
	}
	dim := rng.Intn(len(rows[0]))
	minV, maxV := rows[0][dim], rows[0][dim]
	for _, row := range rows[1:] {
		if row[dim] < minV {
			minV = row[dim]
		}
		if row[dim] > maxV {
			maxV = row[dim]
		}
	}
	if minV == maxV {
		return &forestNode{Leaf: true, Size: len(rows)}
	}
	split := minV + rng.Float64()*(maxV-minV)
	var left, right [][]float64
	for _, row := range rows {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &forestNode{Leaf: true, Size: len(rows)}
	}
	return &forestNode{
		Dim:      dim,
		SplitVal: split,
		Left:     buildNode(left, height+1, limit, rng),
		Right:    buildNode(right, height+1, limit, rng),
	}
}

// Score returns the anomaly score in [0, 1]; higher means the point
// isolates faster and is therefore more anomalous.
func (f *Forest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, root := range f.Trees {
		sum += pathLength(root, x, 0)
	}
	avg := sum / float64(len(f.Trees))
	c := cFactor(f.SampleSize)
	if c <= 0 {
		c = 1
	}
	return math.Pow(2, -avg/c)
}

func pathLength(node *forestNode, x []float64, depth int) float64 {
	if node.Leaf {
		if node.Size <= 1 {
			return float64(depth)
		}
		return float64(depth) + cFactor(node.Size)
	}
	if x[node.Dim] < node.SplitVal {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

// cFactor is c(n), the average path length of an unsuccessful BST
// search, used to normalize tree depths.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	return 2.0*(math.Log(float64(n-1))+eulerMascheroni) - 2.0*float64(n-1)/float64(n)
}
