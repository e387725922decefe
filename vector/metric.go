package vector

import (
	"fmt"
	"math"
	"strings"
)

// Metric names the similarity function of an index.
type Metric string

const (
	MetricL2     Metric = "l2"
	MetricDot    Metric = "dot"
	MetricCosine Metric = "cosine"
)

// ParseMetric parses a metric name, case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricL2, MetricDot, MetricCosine:
		return m, nil
	case "":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// scorer returns the similarity function for stored vectors. Higher is
// more similar. Cosine indexes store and query unit vectors, so their
// scorer is the inner product.
func (m Metric) scorer() func(a, b []float32) float32 {
	if m == MetricL2 {
		return negSquaredL2
	}
	return Dot
}

// prepare maps a vector into the space the metric scores in.
func (m Metric) prepare(v []float32) []float32 {
	if m == MetricCosine {
		return Normalize(v)
	}
	return append([]float32(nil), v...)
}

// Score returns the similarity of a and b under m. Higher is more similar.
func (m Metric) Score(a, b []float32) float32 {
	switch m {
	case MetricCosine:
		return CosineSimilarity(a, b)
	case MetricDot:
		return Dot(a, b)
	default:
		return negSquaredL2(a, b)
	}
}

func negSquaredL2(a, b []float32) float32 { return -SquaredL2(a, b) }

// L2Distance is the Euclidean distance.
func L2Distance(a, b []float32) float64 {
	return math.Sqrt(float64(SquaredL2(a, b)))
}

// CosineSimilarity is the cosine of the angle between a and b, 0 when
// either is a zero vector.
func CosineSimilarity(a, b []float32) float32 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// CosineDistance is 1 - cosine similarity.
func CosineDistance(a, b []float32) float64 {
	return 1 - float64(CosineSimilarity(a, b))
}
