package passes

import (
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// unpackArgs emits, at b's current position, the load-from-arg-array
// sequence common to both outer variants (§4.9): for each of K's
// user-level parameters, a slot is indexed out of the arg-array, loaded
// to get the stored pointer, and the argument is recovered either by a
// plain bitcast-and-load or, for a dim3-typed parameter, by splicing in
// the dim3_to_arg helper's cloned body so the ABI-coercion logic lives
// in one place recognised by the pass rather than being duplicated here.
func unpackArgs(fn *ir.Function, b *ir.Builder, m *ir.Module, up []*ir.Param, argArray ir.Value) []ir.Value {
	dim3ToArg := m.FuncByName(intrinsics.Dim3ToArg)
	args := make([]ir.Value, len(up))
	for i, p := range up {
		slot := b.Index(freshName(fn, "arg.slot"), argArray, ir.ConstInt(ir.I32, int64(i)), ir.VoidPtr)
		raw := b.Load(freshName(fn, "arg.raw"), slot)
		if dim3ToArg != nil && p.Type().Equal(ir.Dim3Type) {
			args[i] = spliceInline(fn, b, dim3ToArg, []ir.Value{raw}, ir.Dim3Type)
			continue
		}
		cast := b.BitCast(freshName(fn, "arg.cast"), raw, ir.PointerType{Elem: p.Type()})
		args[i] = b.Load(freshName(fn, "arg.val"), cast)
	}
	return args
}

// buildWrapper implements §4.9's W(K): it takes the host-side launch
// signature (grid_dim, block_idx, block_dim, args, shared_mem_size),
// unpacks K's original arguments from the arg-array, and tail-calls
// D(K) with the recovered arguments plus the launch coordinates it
// already holds directly.
func buildWrapper(m *ir.Module, k *ir.Function, driver *ir.Function, name string) *ir.Function {
	w := &ir.Function{Name: name, RetType: ir.VoidType{}}
	gridDimP := w.AddParam("grid_dim", ir.Dim3Type)
	blockIdxP := w.AddParam("block_idx", ir.Dim3Type)
	blockDimP := w.AddParam("block_dim", ir.Dim3Type)
	argArrayP := w.AddParam("args", ir.PointerType{Elem: ir.VoidPtr})
	sharedMemSizeP := w.AddParam("shared_mem_size", ir.I32)

	entry := w.NewBlock("entry")
	b := ir.NewBuilder(w, entry)

	up := userParams(k)
	callArgs := unpackArgs(w, b, m, up, argArrayP)
	callArgs = append(callArgs, gridDimP, blockIdxP, blockDimP, sharedMemSizeP)

	b.Call(freshName(w, "driver.call"), driver, "", ir.VoidType{}, callArgs...)
	b.Ret()
	return w
}

// buildSelfContained implements §4.9's S(K): it takes only (grid_dim,
// block_dim, args, shared_mem_size), unpacks K's arguments once, and
// iterates every block of the grid itself — (z outer, x inner), the
// same nesting order the driver uses for threads — calling D(K) once
// per block with a freshly constructed block_idx.
func buildSelfContained(m *ir.Module, k *ir.Function, driver *ir.Function, name string) *ir.Function {
	s := &ir.Function{Name: name, RetType: ir.VoidType{}}
	gridDimP := s.AddParam("grid_dim", ir.Dim3Type)
	blockDimP := s.AddParam("block_dim", ir.Dim3Type)
	argArrayP := s.AddParam("args", ir.PointerType{Elem: ir.VoidPtr})
	sharedMemSizeP := s.AddParam("shared_mem_size", ir.I32)

	entry := s.NewBlock("entry")
	b := ir.NewBuilder(s, entry)

	gridDimSlot := b.Alloca("grid_dim.addr", ir.Dim3Type, ir.ConstInt(ir.I32, 1))
	b.Store(gridDimSlot, gridDimP)
	blockIdxSlot := b.Alloca("block_idx.addr", ir.Dim3Type, ir.ConstInt(ir.I32, 1))

	up := userParams(k)
	fixedArgs := unpackArgs(s, b, m, up, argArrayP)

	gx := loadDimField(s, b, gridDimSlot, 0)
	gy := loadDimField(s, b, gridDimSlot, 1)
	gz := loadDimField(s, b, gridDimSlot, 2)

	zSlot := b.Alloca("gz.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	b.Store(zSlot, ir.ConstInt(ir.I32, 0))
	_, _ = emitCountedLoop(s, b, zSlot, gz, func(b *ir.Builder, z ir.Value) *ir.BasicBlock {
		ySlot := b.Alloca("gy.addr", ir.I32, ir.ConstInt(ir.I32, 1))
		b.Store(ySlot, ir.ConstInt(ir.I32, 0))
		_, yExit := emitCountedLoop(s, b, ySlot, gy, func(b *ir.Builder, y ir.Value) *ir.BasicBlock {
			xSlot := b.Alloca("gx.addr", ir.I32, ir.ConstInt(ir.I32, 1))
			b.Store(xSlot, ir.ConstInt(ir.I32, 0))
			_, xExit := emitCountedLoop(s, b, xSlot, gx, func(b *ir.Builder, x ir.Value) *ir.BasicBlock {
				storeDim3Fields(s, b, blockIdxSlot, x, y, z)
				blockIdxVal := b.Load(freshName(s, "block_idx.val"), blockIdxSlot)
				callArgs := append(append([]ir.Value{}, fixedArgs...), gridDimP, blockIdxVal, blockDimP, sharedMemSizeP)
				b.Call(freshName(s, "driver.call"), driver, "", ir.VoidType{}, callArgs...)
				return b.Blk
			})
			return xExit
		})
		return yExit
	})

	b.Ret()
	return s
}

// buildOuterVariants implements the "exactly one assumes K's original
// name" rule of §4.9. It returns both synthesised procedures; the
// caller installs whichever one opts.OuterVariant selects under K's
// original name and the other under its own synthesised name.
func buildOuterVariants(m *ir.Module, k *ir.Function, driver *ir.Function, opts Options) (wrapper, selfContained *ir.Function) {
	wrapperName, selfContainedName := k.Name+".wrapper", k.Name+".self_contained"
	switch opts.OuterVariant {
	case VariantWrapper:
		wrapperName = k.Name
	case VariantSelfContained:
		selfContainedName = k.Name
	}
	wrapper = buildWrapper(m, k, driver, wrapperName)
	selfContained = buildSelfContained(m, k, driver, selfContainedName)
	return wrapper, selfContained
}
