package distkernel

import "golang.org/x/sys/cpu"

// selectVariant probes the running CPU once at process start, the same
// point the spec's multi-versioned kernels resolve their dispatch table.
// golang.org/x/sys/cpu ships no assembly kernels itself, so both branches
// here run the same portable Go code; the feature probe is kept as the
// real selection point so swapping in arch-specific .s files later is a
// local change to l2SquaredF32Unrolled/dotF32Unrolled, not to dispatch.
func selectVariant() variant {
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		return variantAccelerated
	}
	return variantScalar
}
