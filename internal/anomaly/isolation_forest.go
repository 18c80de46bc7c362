// Package anomaly evaluates a pre-trained isolation forest. Training happens
// offline; the trainer exports the fitted forest as a JSON artifact which is
// loaded once at startup.
//
// Artifact layout:
//
//	{
//	  "n_features": 6,
//	  "max_samples": 256,
//	  "offset": -0.5,
//	  "trees": [
//	    {"features": [0,1,2,3,4,5],
//	     "nodes": [{"feature":0,"threshold":3.5,"left":1,"right":2,"n_samples":256}, ...]}
//	  ]
//	}
//
// A node with left == -1 is a leaf. Feature indices inside a tree address
// that tree's "features" subset when present, the input vector otherwise.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/BradenHooton/tripwire/internal/models"
)

// Labels returned by Predict.
const (
	Outlier = -1
	Inlier  = 1
)

// ErrFeatureWidth is returned when a vector does not match the model's width.
var ErrFeatureWidth = errors.New("feature vector width does not match model")

// Scorer classifies a batch of feature vectors, one label per vector.
type Scorer interface {
	Predict(batch [][]float64) ([]int, error)
}

// Node is one split or leaf of an isolation tree.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	NSamples  int     `json:"n_samples"`
}

func (n Node) leaf() bool {
	return n.Left < 0
}

// Tree is a single isolation tree.
type Tree struct {
	Features []int  `json:"features,omitempty"`
	Nodes    []Node `json:"nodes"`
}

// IsolationForest scores vectors by their average isolation depth.
type IsolationForest struct {
	NFeatures  int     `json:"n_features"`
	MaxSamples int     `json:"max_samples"`
	Offset     float64 `json:"offset"`
	Trees      []Tree  `json:"trees"`

	norm float64
}

// Load reads and validates a model artifact.
func Load(path string) (*IsolationForest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrModelLoad, err)
	}
	return Parse(data)
}

// Parse decodes and validates an artifact already in memory.
func Parse(data []byte) (*IsolationForest, error) {
	var forest IsolationForest
	if err := json.Unmarshal(data, &forest); err != nil {
		return nil, fmt.Errorf("%w: decode artifact: %v", models.ErrModelLoad, err)
	}
	if err := forest.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrModelLoad, err)
	}
	forest.norm = averagePathLength(forest.MaxSamples)
	return &forest, nil
}

func (f *IsolationForest) validate() error {
	if f.NFeatures <= 0 {
		return fmt.Errorf("n_features must be positive, got %d", f.NFeatures)
	}
	if f.MaxSamples < 2 {
		return fmt.Errorf("max_samples must be at least 2, got %d", f.MaxSamples)
	}
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}

	for ti, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for _, feat := range tree.Features {
			if feat < 0 || feat >= f.NFeatures {
				return fmt.Errorf("tree %d maps to feature %d outside [0,%d)", ti, feat, f.NFeatures)
			}
		}
		width := f.NFeatures
		if len(tree.Features) > 0 {
			width = len(tree.Features)
		}
		for ni, node := range tree.Nodes {
			if node.leaf() {
				continue
			}
			if node.Left <= ni || node.Left >= len(tree.Nodes) || node.Right <= ni || node.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d has child out of range", ti, ni)
			}
			if node.Feature < 0 || node.Feature >= width {
				return fmt.Errorf("tree %d node %d splits on feature %d outside [0,%d)", ti, ni, node.Feature, width)
			}
		}
	}
	return nil
}

// Predict labels each vector Outlier or Inlier.
func (f *IsolationForest) Predict(batch [][]float64) ([]int, error) {
	labels := make([]int, len(batch))
	for i, x := range batch {
		score, err := f.Score(x)
		if err != nil {
			return nil, err
		}
		// decision = -score - offset; negative means anomalous.
		if -score-f.Offset < 0 {
			labels[i] = Outlier
		} else {
			labels[i] = Inlier
		}
	}
	return labels, nil
}

// Score returns the anomaly score 2^(-E[h(x)]/c(max_samples)) in (0,1].
// Values close to 1 are anomalies, values well below 0.5 are normal.
func (f *IsolationForest) Score(x []float64) (float64, error) {
	if len(x) != f.NFeatures {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrFeatureWidth, len(x), f.NFeatures)
	}

	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))

	return math.Pow(2, -mean/f.norm), nil
}

// pathLength walks x to a leaf and adds c(n) for the unresolved samples there.
func (t *Tree) pathLength(x []float64) float64 {
	idx, depth := 0, 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		node := t.Nodes[idx]
		if node.leaf() {
			return float64(depth) + averagePathLength(node.NSamples)
		}

		feature := node.Feature
		if len(t.Features) > 0 {
			feature = t.Features[feature]
		}

		if x[feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		depth++
	}
	return float64(depth)
}

// averagePathLength is c(n), the mean depth of an unsuccessful BST search
// over n points.
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

const eulerGamma = 0.5772156649015329
