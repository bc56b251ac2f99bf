//go:build fusion_exactsqrt

package fusion

// Build with -tags fusion_exactsqrt when bit-exact agreement with a
// float reference matters more than per-sample cost.
func invSqrt(x float32) float32 { return 1 / sqrt(x) }
