// Package validation checks embedding vectors for shape and quality before
// they are cached or written back.
package validation

import (
	"math"

	"github.com/oriys/embedstar/internal/embederr"
	"github.com/oriys/embedstar/internal/logging"
)

// minVariance rejects vectors whose elements are effectively constant; a
// provider returning such a vector has almost certainly malfunctioned.
const minVariance = 1e-6

// Config holds the acceptance thresholds.
type Config struct {
	MinDimension int
	MaxDimension int
	// MaxZeroRatio is the largest tolerated fraction of exact zeros.
	MaxZeroRatio float64
	// MinMagnitude and MaxMagnitude bound the L2 norm.
	MinMagnitude float64
	MaxMagnitude float64
	CheckFinite  bool
	// MaxDuplicateRatio is advisory: exceeding it is logged, never fatal.
	MaxDuplicateRatio float64
}

// DefaultConfig accepts most well-formed embeddings.
func DefaultConfig() Config {
	return Config{
		MinDimension:      1,
		MaxDimension:      10000,
		MaxZeroRatio:      0.9,
		MinMagnitude:      0.001,
		MaxMagnitude:      1000.0,
		CheckFinite:       true,
		MaxDuplicateRatio: 0.5,
	}
}

// Normalized1024Config is the preset for 1024-dimension normalized models.
func Normalized1024Config() Config {
	cfg := DefaultConfig()
	cfg.MinDimension = 1024
	cfg.MaxDimension = 1024
	cfg.MinMagnitude = 0.5
	cfg.MaxMagnitude = 2.0
	return cfg
}

// Validator applies a Config to candidate vectors.
type Validator struct {
	cfg Config
}

// New builds a validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate returns nil when the vector passes every check. context names
// the record for error messages and logs.
func (v *Validator) Validate(vec []float32, context string) error {
	n := len(vec)
	if n < v.cfg.MinDimension || n > v.cfg.MaxDimension {
		return embederr.New(embederr.InvalidDimension,
			"%s: dimension %d outside [%d, %d]", context, n, v.cfg.MinDimension, v.cfg.MaxDimension)
	}

	if v.cfg.CheckFinite {
		for i, x := range vec {
			f := float64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return embederr.New(embederr.Validation,
					"%s: non-finite value %v at index %d", context, x, i)
			}
		}
	}

	zeros := 0
	var sum, sumSquares float64
	for _, x := range vec {
		if x == 0 {
			zeros++
		}
		f := float64(x)
		sum += f
		sumSquares += f * f
	}

	if ratio := float64(zeros) / float64(n); ratio > v.cfg.MaxZeroRatio {
		return embederr.New(embederr.Validation,
			"%s: zero ratio %.3f exceeds %.3f", context, ratio, v.cfg.MaxZeroRatio)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude < v.cfg.MinMagnitude || magnitude > v.cfg.MaxMagnitude {
		return embederr.New(embederr.Validation,
			"%s: magnitude %.6f outside [%.3f, %.3f]", context, magnitude, v.cfg.MinMagnitude, v.cfg.MaxMagnitude)
	}

	mean := sum / float64(n)
	variance := sumSquares/float64(n) - mean*mean
	if variance < minVariance {
		return embederr.New(embederr.Validation,
			"%s: variance %.9f below %.0e, vector is effectively constant", context, variance, minVariance)
	}

	if v.cfg.MaxDuplicateRatio > 0 {
		if ratio := duplicateRatio(vec); ratio > v.cfg.MaxDuplicateRatio {
			logging.Op().Warn("embedding has unusually repetitive values",
				"context", context, "duplicate_ratio", ratio)
		}
	}

	return nil
}

// duplicateRatio is the fraction of elements sharing the single most common
// value.
func duplicateRatio(vec []float32) float64 {
	counts := make(map[float32]int, len(vec))
	most := 0
	for _, x := range vec {
		counts[x]++
		if counts[x] > most {
			most = counts[x]
		}
	}
	return float64(most) / float64(len(vec))
}

// Magnitude is the L2 norm.
func Magnitude(vec []float32) float64 {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales vec in place to unit magnitude. Vectors below the
// validator's minimum magnitude cannot be normalized meaningfully.
func (v *Validator) Normalize(vec []float32) error {
	m := Magnitude(vec)
	if m < v.cfg.MinMagnitude {
		return embederr.New(embederr.Validation,
			"cannot normalize vector with magnitude %.6f below %.3f", m, v.cfg.MinMagnitude)
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / m)
	}
	return nil
}

// Cosine computes the cosine similarity of two vectors. Defined only when
// dimensions agree and both magnitudes clear the validator's minimum.
func (v *Validator) Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, embederr.Dimension(len(a), len(b))
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	ma, mb := Magnitude(a), Magnitude(b)
	if ma < v.cfg.MinMagnitude || mb < v.cfg.MinMagnitude {
		return 0, embederr.New(embederr.Validation,
			"cosine undefined for near-zero magnitudes %.6f, %.6f", ma, mb)
	}
	return dot / (ma * mb), nil
}
