// Package passes implements the kernel splitting pipeline: constant
// flattening, dim-source substitution, barrier splitting, alloca
// lowering, subkernel discovery, live-across analysis, preserved-data
// layout, subkernel synthesis, driver assembly, and the wrapper /
// self-contained variants, run in that order per kernel by Manager.
package passes

// Options is the immutable configuration record threaded into the pass
// constructor. Nothing in this package reads process-global state for
// these choices.
type Options struct {
	// SingleDimThreadLoop selects the driver's per-thread loop shape:
	// false emits three nested (z, y, x) loops; true emits one linear
	// loop recovering (x, y, z) by modular arithmetic. Default false —
	// measured roughly 2x faster than the linear form.
	SingleDimThreadLoop bool

	// DynamicPreservedDataArray selects the size of the driver's
	// preserved-data array: false sizes it to MaxThreadsPerBlock, true
	// sizes it to the launch's actual blockDim.x*y*z.
	DynamicPreservedDataArray bool

	// HeapPreservedDataArray selects whether the preserved-data array is
	// heap- or stack-allocated by the driver. Default true, to avoid
	// stack overflow for large block sizes.
	HeapPreservedDataArray bool

	// InlineSubkernels selects whether the driver's per-thread call to a
	// subkernel is inlined in place after emission. Default true;
	// downstream optimisation passes may re-expand an inlined call.
	InlineSubkernels bool

	// OuterVariant selects which of the wrapper / self-contained outer
	// procedures assumes the kernel's original name; the other keeps its
	// synthesised name and is called only by its sibling or by whatever
	// the host runtime wires up externally.
	OuterVariant OuterVariant
}

// OuterVariant names the two outer procedures synthesised per kernel
// (§4.9); exactly one of them assumes the original kernel's name.
type OuterVariant int

const (
	VariantWrapper OuterVariant = iota
	VariantSelfContained
)

// DefaultOptions returns the configuration the source itself defaults
// to, per spec §4.8.
func DefaultOptions() Options {
	return Options{
		SingleDimThreadLoop:       false,
		DynamicPreservedDataArray: false,
		HeapPreservedDataArray:    true,
		InlineSubkernels:          true,
		OuterVariant:              VariantWrapper,
	}
}

// MaxThreadsPerBlock bounds the driver's preserved-data array size when
// DynamicPreservedDataArray is false.
const MaxThreadsPerBlock = 1024
