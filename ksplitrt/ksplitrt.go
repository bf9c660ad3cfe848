// Package ksplitrt is the calling convention a kernel written as ordinary
// Go source uses to query its launch geometry and synchronise with the
// rest of its thread block. It is never linked or executed: gosrc.go
// recognises calls to these functions by name off the static callee and
// lowers them directly into the same sreg-read and barrier intrinsics
// the textual IR grammar spells out explicitly. Every function here
// panics if actually called, since a kernel is meant to be consumed by
// the splitting pass, not run as ordinary Go.
package ksplitrt

func unrecognised() int32 {
	panic("ksplitrt: this function only has meaning to the kernel-splitting frontend")
}

// GridDimX, GridDimY and GridDimZ read the grid dimension, in blocks,
// along each axis.
func GridDimX() int32 { return unrecognised() }
func GridDimY() int32 { return unrecognised() }
func GridDimZ() int32 { return unrecognised() }

// BlockIdxX, BlockIdxY and BlockIdxZ read this thread's block's index
// within the grid, along each axis.
func BlockIdxX() int32 { return unrecognised() }
func BlockIdxY() int32 { return unrecognised() }
func BlockIdxZ() int32 { return unrecognised() }

// BlockDimX, BlockDimY and BlockDimZ read the block dimension, in
// threads, along each axis.
func BlockDimX() int32 { return unrecognised() }
func BlockDimY() int32 { return unrecognised() }
func BlockDimZ() int32 { return unrecognised() }

// ThreadIdxX, ThreadIdxY and ThreadIdxZ read this thread's index within
// its block, along each axis.
func ThreadIdxX() int32 { return unrecognised() }
func ThreadIdxY() int32 { return unrecognised() }
func ThreadIdxZ() int32 { return unrecognised() }

// Barrier synchronises every thread in the block; no thread proceeds
// past it until all have arrived.
func Barrier() { unrecognised() }
