package anomaly

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/tripwire/internal/models"
)

// A one-tree forest over two features: anything with feature 0 above 10 is
// isolated after a single split, everything else lands in a deep leaf.
const twoFeatureForest = `{
	"n_features": 2,
	"max_samples": 256,
	"offset": -0.5,
	"trees": [
		{"nodes": [
			{"feature": 0, "threshold": 10, "left": 1, "right": 2, "n_samples": 256},
			{"left": -1, "right": -1, "n_samples": 255},
			{"left": -1, "right": -1, "n_samples": 1}
		]}
	]
}`

func TestParse_ValidArtifact(t *testing.T) {
	forest, err := Parse([]byte(twoFeatureForest))
	require.NoError(t, err)

	assert.Equal(t, 2, forest.NFeatures)
	assert.Len(t, forest.Trees, 1)
}

func TestPredict_SeparatesIsolatedPoint(t *testing.T) {
	forest, err := Parse([]byte(twoFeatureForest))
	require.NoError(t, err)

	labels, err := forest.Predict([][]float64{{1, 0}, {50, 0}})
	require.NoError(t, err)

	assert.Equal(t, []int{Inlier, Outlier}, labels)
}

func TestScore_Range(t *testing.T) {
	forest, err := Parse([]byte(twoFeatureForest))
	require.NoError(t, err)

	normal, err := forest.Score([]float64{1, 0})
	require.NoError(t, err)
	outlier, err := forest.Score([]float64{50, 0})
	require.NoError(t, err)

	assert.Less(t, normal, 0.5)
	assert.Greater(t, outlier, 0.5)
	assert.LessOrEqual(t, outlier, 1.0)
}

func TestPredict_FeatureSubset(t *testing.T) {
	artifact := `{
		"n_features": 3, "max_samples": 16, "offset": -0.5,
		"trees": [{"features": [2], "nodes": [
			{"feature": 0, "threshold": 0.5, "left": 1, "right": 2, "n_samples": 16},
			{"left": -1, "right": -1, "n_samples": 15},
			{"left": -1, "right": -1, "n_samples": 1}
		]}]
	}`
	forest, err := Parse([]byte(artifact))
	require.NoError(t, err)

	labels, err := forest.Predict([][]float64{{100, 100, 0}, {0, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{Inlier, Outlier}, labels)
}

func TestPredict_WidthMismatch(t *testing.T) {
	forest, err := Parse([]byte(twoFeatureForest))
	require.NoError(t, err)

	_, err = forest.Predict([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrFeatureWidth)
}

func TestParse_RejectsBrokenArtifacts(t *testing.T) {
	tests := []struct {
		name     string
		artifact string
	}{
		{"not json", `{`},
		{"no trees", `{"n_features": 2, "max_samples": 8, "trees": []}`},
		{"no features", `{"n_features": 0, "max_samples": 8, "trees": [{"nodes": [{"left": -1, "right": -1, "n_samples": 8}]}]}`},
		{"child out of range", `{"n_features": 1, "max_samples": 8, "trees": [{"nodes": [{"feature": 0, "left": 5, "right": 6, "n_samples": 8}]}]}`},
		{"backwards child", `{"n_features": 1, "max_samples": 8, "trees": [{"nodes": [{"left": -1, "right": -1, "n_samples": 4}, {"feature": 0, "left": 0, "right": 0, "n_samples": 8}]}]}`},
		{"split feature out of range", `{"n_features": 1, "max_samples": 8, "trees": [{"nodes": [{"feature": 3, "left": 1, "right": 2, "n_samples": 8}, {"left": -1, "right": -1, "n_samples": 4}, {"left": -1, "right": -1, "n_samples": 4}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.artifact))
			assert.ErrorIs(t, err, models.ErrModelLoad)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomaly_model.json")
	require.NoError(t, os.WriteFile(path, []byte(twoFeatureForest), 0o600))

	forest, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, forest.MaxSamples)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, models.ErrModelLoad)
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	// c(256) from the isolation forest paper, about 10.24.
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}
