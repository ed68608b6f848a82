package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Metric selects how nearest-neighbour queries measure distance. Names
// follow pgvector's operator names.
type Metric string

const (
	MetricL2           Metric = "l2_distance"
	MetricL1           Metric = "l1_distance"
	MetricCosine       Metric = "cosine_distance"
	MetricInnerProduct Metric = "max_inner_product"
)

// DefaultMetric is used when a query names none.
const DefaultMetric = MetricL2

// distanceFunctions maps each metric to the SQL scalar function registered
// on the driver.
var distanceFunctions = map[Metric]string{
	MetricL2:           "fp_l2_distance",
	MetricL1:           "fp_l1_distance",
	MetricCosine:       "fp_cosine_distance",
	MetricInnerProduct: "fp_negative_inner_product",
}

// distanceKernels are the Go implementations behind the SQL functions.
var distanceKernels = map[string]func(a, b []float32) float64{
	"fp_l2_distance":            l2Distance,
	"fp_l1_distance":            l1Distance,
	"fp_cosine_distance":        cosineDistance,
	"fp_negative_inner_product": negativeInnerProduct,
}

// ParseMetric validates a metric name; empty selects DefaultMetric.
func ParseMetric(name string) (Metric, error) {
	if name == "" {
		return DefaultMetric, nil
	}
	m := Metric(name)
	if _, ok := distanceFunctions[m]; !ok {
		return "", fmt.Errorf("unsupported distance type %q", name)
	}
	return m, nil
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func l1Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// negativeInnerProduct orders ascending like the other distances.
func negativeInnerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return -dot
}

// distanceBlobs decodes two stored vectors and applies kernel.
func distanceBlobs(name string, a, b []byte) (float64, error) {
	kernel, ok := distanceKernels[name]
	if !ok {
		return 0, fmt.Errorf("unknown distance function %s", name)
	}
	va, err := decodeVector(a)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	vb, err := decodeVector(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("%s: dimension mismatch %d vs %d", name, len(va), len(vb))
	}
	return kernel(va, vb), nil
}

// encodeVector packs a vector as little-endian float32, the layout
// sqlite-vec uses.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d not multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
