package embedding

// AdjustToDims truncates or zero-pads a vector to the target dimension.
func AdjustToDims(vec []float32, target int) []float32 {
	if target <= 0 {
		return vec
	}
	if len(vec) == target {
		return vec
	}
	if len(vec) > target {
		return vec[:target]
	}
	out := make([]float32, target)
	copy(out, vec)
	// leave tail zeros
	return out
}
