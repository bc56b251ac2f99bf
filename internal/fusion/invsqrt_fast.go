//go:build !fusion_exactsqrt

package fusion

func invSqrt(x float32) float32 { return fastInvSqrt(x) }
