package vector

import (
	"math"

	"golang.org/x/sys/cpu"
)

const maxLanes = 16

// lanes is the number of independent accumulators the kernels keep per
// chunk. It follows the widest float32 register the CPU offers so the
// compiler can keep the partial sums in registers.
var lanes = laneWidth()

func laneWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 16
	case cpu.X86.HasAVX2, cpu.X86.HasAVX:
		return 8
	default:
		// SSE and ARM64 ASIMD both hold four float32.
		return 4
	}
}

// Dot returns the inner product of a and b. The vectors must have equal
// length.
func Dot(a, b []float32) float32 {
	b = b[:len(a)]

	var acc [maxLanes]float32
	w := lanes
	n := len(a) - len(a)%w
	for i := 0; i < n; i += w {
		ca, cb := a[i:i+w], b[i:i+w]
		for j := range ca {
			acc[j] += ca[j] * cb[j]
		}
	}

	var sum float32
	for j := 0; j < w; j++ {
		sum += acc[j]
	}
	for i := n; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 returns the squared Euclidean distance between a and b. The
// vectors must have equal length.
func SquaredL2(a, b []float32) float32 {
	b = b[:len(a)]

	var acc [maxLanes]float32
	w := lanes
	n := len(a) - len(a)%w
	for i := 0; i < n; i += w {
		ca, cb := a[i:i+w], b[i:i+w]
		for j := range ca {
			d := ca[j] - cb[j]
			acc[j] += d * d
		}
	}

	var sum float32
	for j := 0; j < w; j++ {
		sum += acc[j]
	}
	for i := n; i < len(a); i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Normalize returns v scaled to unit length. A zero vector is returned as
// a zero-filled copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		return out
	}
	inv := 1 / n
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
