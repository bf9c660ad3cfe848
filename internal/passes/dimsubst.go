package passes

import (
	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// dimSubstPass implements §4.1: it gives K four new trailing parameters,
// one pointer-to-dim3 per triple (gridDim, blockIdx, blockDim,
// threadIdx), then replaces every call to one of the twelve sreg-read
// intrinsics with a field address into the matching parameter plus a
// load, and erases the now-dead call. The four parameters are added
// unconditionally, even for a kernel that queries no dims itself, since
// the driver built in §4.8 always supplies all four to every subkernel
// it calls.
type dimSubstPass struct{}

func (dimSubstPass) Name() string { return "dim-subst" }

func (dimSubstPass) Run(m *ir.Module, k *ir.Function, _ Options, rep *diag.Reporter) {
	ptrDim3 := ir.PointerType{Elem: ir.Dim3Type}
	params := map[intrinsics.Triple]*ir.Param{
		intrinsics.TripleGridDim:   k.AddParam("gridDim", ptrDim3),
		intrinsics.TripleBlockIdx:  k.AddParam("blockIdx", ptrDim3),
		intrinsics.TripleBlockDim:  k.AddParam("blockDim", ptrDim3),
		intrinsics.TripleThreadIdx: k.AddParam("threadIdx", ptrDim3),
	}

	// Collect call sites first; rewriting the block's instruction list
	// while iterating it would skip or double-visit entries.
	type query struct {
		call  *ir.CallInstr
		block *ir.BasicBlock
		tri   intrinsics.Triple
		axis  intrinsics.Axis
	}
	var queries []query
	for _, b := range k.Blocks {
		for _, in := range b.Instrs {
			call, ok := in.(*ir.CallInstr)
			if !ok {
				continue
			}
			tri, axis, ok := intrinsics.DimQuery(call.Intrinsic)
			if !ok {
				continue
			}
			queries = append(queries, query{call, b, tri, axis})
		}
	}

	for _, q := range queries {
		param := params[q.tri]

		gep := &ir.GEPInstr{Base: param, Field: int(q.axis)}
		gep.SetName(freshName(k, "dimfield"))
		ir.SetType(gep, ir.PointerType{Elem: ir.I32})
		ir.AssignID(gep, k)

		load := &ir.LoadInstr{Ptr: gep}
		load.SetName(freshName(k, "dimval"))
		ir.SetType(load, ir.I32)
		ir.AssignID(load, k)

		insertBefore(q.block, q.call, gep)
		insertBefore(q.block, q.call, load)
		replaceAllUses(k, q.call, load)
		removeInstr(q.call)
	}

	_ = rep
}
