package passes

import (
	"splitkernel/internal/ir"
)

// userParams recovers K's parameters as they existed before dim-source
// substitution (§4.1) appended the four dim-triple pointers. dimSubstPass
// always appends exactly gridDim, blockIdx, blockDim, threadIdx, in that
// order, as the last four parameters, so slicing them off the tail after
// the early passes have run is equivalent to keeping a dedicated marker
// and a good deal less machinery.
func userParams(k *ir.Function) []*ir.Param {
	if len(k.Params) < 4 {
		return k.Params
	}
	return k.Params[:len(k.Params)-4]
}

// buildDriver implements §4.8. D(K) takes K's user-level parameters plus
// the launch-time grid/block coordinates and the dynamic-shared size; it
// owns the lifetime of the preserved-data array, S(K) and the
// dynamic-shared buffer, runs the trampoline to next_sk_id == -1, and
// frees everything on its way out.
func buildDriver(m *ir.Module, k *ir.Function, subs []*Subkernel, synthesized map[int]*ir.Function, layout *KernelLayout, shared *SharedLayout, opts Options) *ir.Function {
	d := &ir.Function{Name: k.Name + ".driver", RetType: ir.VoidType{}}
	up := userParams(k)
	argParams := make([]*ir.Param, len(up))
	for i, p := range up {
		argParams[i] = d.AddParam(p.Name(), p.Type())
	}
	gridDimP := d.AddParam("grid_dim", ir.Dim3Type)
	blockIdxP := d.AddParam("block_idx", ir.Dim3Type)
	blockDimP := d.AddParam("block_dim", ir.Dim3Type)
	sharedMemSizeP := d.AddParam("shared_mem_size", ir.I32)

	entry := d.NewBlock("entry")
	bd := ir.NewBuilder(d, entry)

	gridDimSlot := bd.Alloca("grid_dim.addr", ir.Dim3Type, ir.ConstInt(ir.I32, 1))
	bd.Store(gridDimSlot, gridDimP)
	blockIdxSlot := bd.Alloca("block_idx.addr", ir.Dim3Type, ir.ConstInt(ir.I32, 1))
	bd.Store(blockIdxSlot, blockIdxP)
	blockDimSlot := bd.Alloca("block_dim.addr", ir.Dim3Type, ir.ConstInt(ir.I32, 1))
	bd.Store(blockDimSlot, blockDimP)
	threadIdxSlot := bd.Alloca("thread_idx.addr", ir.Dim3Type, ir.ConstInt(ir.I32, 1))

	var sharedSlot ir.Value = ir.NewUndef(ir.PointerType{Elem: nil})
	if shared != nil && shared.RecordType != nil {
		a := &ir.AllocaInstr{ElemType: shared.RecordType, Count: ir.ConstInt(ir.I32, 1), IsHeap: true}
		finishAndPlace(d, entry, nil, a, "shared_record", ir.PointerType{Elem: shared.RecordType})
		sharedSlot = a
	}
	var dynSlot ir.Value = ir.NewUndef(ir.VoidPtr)
	if shared != nil && shared.Dynamic != nil {
		a := &ir.AllocaInstr{ElemType: ir.IntType{Width: 8}, Count: sharedMemSizeP, IsHeap: true}
		finishAndPlace(d, entry, nil, a, "dyn_shared", ir.VoidPtr)
		dynSlot = a
	}

	presCount := presArraySize(d, entry, blockDimSlot, opts)
	var presArray ir.Value = ir.NewUndef(ir.PointerType{Elem: layout.RecordType})
	if layout.RecordType != nil && len(layout.RecordType.Fields) > 0 {
		a := &ir.AllocaInstr{ElemType: layout.RecordType, Count: presCount, IsHeap: opts.HeapPreservedDataArray}
		finishAndPlace(d, entry, nil, a, "preserved_array", ir.PointerType{Elem: layout.RecordType})
		presArray = a
	}

	nextSlot := bd.Alloca("next.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	fromSlot := bd.Alloca("from.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	entrySK := entrySubkernel(subs)
	bd.Store(nextSlot, ir.ConstInt(ir.I32, int64(entrySK.ID)))
	bd.Store(fromSlot, ir.ConstInt(ir.I32, -1))

	header := d.NewBlock("dispatch.header")
	bd.Br(header)

	bd.SetBlock(header)
	nextVal := bd.Load("next.val", nextSlot)
	done := bd.Cmp("done", ir.CmpEQ, nextVal, ir.ConstInt(ir.I32, -1))
	exitBlock := d.NewBlock("dispatch.exit")
	dispatchBlock := d.NewBlock("dispatch.switch")
	bd.CondBr(done, exitBlock, dispatchBlock)

	bd.SetBlock(dispatchBlock)
	sw := bd.Switch(nextVal, exitBlock)

	callArgs := func(threadIdxPtr ir.Value) []ir.Value {
		args := make([]ir.Value, 0, len(argParams)+8)
		for _, p := range argParams {
			args = append(args, p)
		}
		args = append(args, gridDimSlot, blockIdxSlot, blockDimSlot, threadIdxPtr)
		return args
	}

	for _, sk := range subs {
		sub := synthesized[sk.ID]
		if sub == nil {
			continue
		}
		caseBlock := d.NewBlock("dispatch.sk")
		sw.AddCase(int64(sk.ID), caseBlock)

		latch := d.NewBlock("dispatch.latch")
		bl := ir.NewBuilder(d, latch)
		bl.Br(header)

		cb := ir.NewBuilder(d, caseBlock)
		fromVal := cb.Load("from.cur", fromSlot)
		finalBlock := emitPerThreadLoop(d, cb, opts, blockDimSlot, threadIdxSlot, func(lb *ir.Builder, linear ir.Value) {
			args := callArgs(threadIdxSlot)
			args = append(args, fromVal)
			if layout.RecordType != nil && len(layout.RecordType.Fields) > 0 {
				args = append(args, lb.Index("thread.preserved", presArray, linear, layout.RecordType))
			}
			if shared != nil && shared.RecordType != nil {
				args = append(args, sharedSlot)
			}
			if shared != nil && shared.Dynamic != nil {
				args = append(args, dynSlot)
			}
			var pair ir.Value
			if opts.InlineSubkernels {
				pair = emitInlinedCall(d, lb, sub, args)
			} else {
				call := lb.Call(freshName(d, "sk.call"), sub, "", ir.PairType, args...)
				pair = call
			}
			newFrom := lb.ExtractPair("from.next", pair, 0)
			newNext := lb.ExtractPair("next.next", pair, 1)
			lb.Store(fromSlot, newFrom)
			lb.Store(nextSlot, newNext)
		})
		fb := ir.NewBuilder(d, finalBlock)
		fb.Br(latch)
	}

	bd.SetBlock(exitBlock)
	if layout.RecordType != nil && len(layout.RecordType.Fields) > 0 {
		bd.Dealloc(presArray)
	}
	if shared != nil && shared.RecordType != nil {
		bd.Dealloc(sharedSlot)
	}
	if shared != nil && shared.Dynamic != nil {
		bd.Dealloc(dynSlot)
	}
	bd.Ret()

	return d
}

func entrySubkernel(subs []*Subkernel) *Subkernel {
	for _, sk := range subs {
		if sk.IsEntry {
			return sk
		}
	}
	if len(subs) > 0 {
		return subs[0]
	}
	return nil
}

// presArraySize computes the preserved-data array length per
// opts.DynamicPreservedDataArray: the fixed MaxThreadsPerBlock bound, or
// block_dim.x*y*z loaded from the block-dim slot.
func presArraySize(d *ir.Function, blk *ir.BasicBlock, blockDimSlot ir.Value, opts Options) ir.Value {
	if !opts.DynamicPreservedDataArray {
		return ir.ConstInt(ir.I32, MaxThreadsPerBlock)
	}
	b := ir.NewBuilder(d, blk)
	x := loadDimField(d, b, blockDimSlot, 0)
	y := loadDimField(d, b, blockDimSlot, 1)
	z := loadDimField(d, b, blockDimSlot, 2)
	xy := b.Bin("bd.xy", ir.Mul, x, y, ir.I32)
	return b.Bin("bd.xyz", ir.Mul, xy, z, ir.I32)
}

func loadDimField(d *ir.Function, b *ir.Builder, dimSlot ir.Value, field int) ir.Value {
	gep := &ir.GEPInstr{Base: dimSlot, Field: field}
	finishAndPlace(d, b.Blk, nil, gep, freshName(d, "dim.field"), ir.PointerType{Elem: ir.I32})
	return b.Load(freshName(d, "dim.val"), gep)
}

// emitPerThreadLoop builds the block's (x, y, z) iteration per
// opts.SingleDimThreadLoop, invoking body once per thread with the
// builder positioned at the innermost block and the thread's linear
// index into the preserved-data array. It returns the block execution
// continues in after the loop completes.
func emitPerThreadLoop(d *ir.Function, b *ir.Builder, opts Options, blockDimSlot ir.Value, threadIdxSlot ir.Value, body func(*ir.Builder, ir.Value)) *ir.BasicBlock {
	if opts.SingleDimThreadLoop {
		return emitSingleDimThreadLoop(d, b, blockDimSlot, threadIdxSlot, body)
	}
	return emitTripleThreadLoop(d, b, blockDimSlot, threadIdxSlot, body)
}

// emitTripleThreadLoop is the default (z outer, x inner) nested loop.
func emitTripleThreadLoop(d *ir.Function, b *ir.Builder, blockDimSlot ir.Value, threadIdxSlot ir.Value, body func(*ir.Builder, ir.Value)) *ir.BasicBlock {
	bx := loadDimField(d, b, blockDimSlot, 0)
	by := loadDimField(d, b, blockDimSlot, 1)
	bz := loadDimField(d, b, blockDimSlot, 2)

	zSlot := b.Alloca("z.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	b.Store(zSlot, ir.ConstInt(ir.I32, 0))
	zHeader, zExit := emitCountedLoop(d, b, zSlot, bz, func(b *ir.Builder, z ir.Value) *ir.BasicBlock {
		ySlot := b.Alloca("y.addr", ir.I32, ir.ConstInt(ir.I32, 1))
		b.Store(ySlot, ir.ConstInt(ir.I32, 0))
		yHeader, yExit := emitCountedLoop(d, b, ySlot, by, func(b *ir.Builder, y ir.Value) *ir.BasicBlock {
			xSlot := b.Alloca("x.addr", ir.I32, ir.ConstInt(ir.I32, 1))
			b.Store(xSlot, ir.ConstInt(ir.I32, 0))
			xHeader, xExit := emitCountedLoop(d, b, xSlot, bx, func(b *ir.Builder, x ir.Value) *ir.BasicBlock {
				storeDim3Fields(d, b, threadIdxSlot, x, y, z)
				linear := linearIndex(d, b, x, y, z, bx, by)
				body(b, linear)
				return b.Blk
			})
			_ = xHeader
			return xExit
		})
		_ = yHeader
		return yExit
	})
	_ = zHeader
	return zExit
}

// emitSingleDimThreadLoop runs one linear loop over bx*by*bz iterations
// and derives (x, y, z) by successive division, finishing with a modulus
// against blockDim.z for the z component — the fix for the source's
// documented off-by-one triple extraction, which divided by blockDim.y
// a second time instead.
func emitSingleDimThreadLoop(d *ir.Function, b *ir.Builder, blockDimSlot ir.Value, threadIdxSlot ir.Value, body func(*ir.Builder, ir.Value)) *ir.BasicBlock {
	bx := loadDimField(d, b, blockDimSlot, 0)
	by := loadDimField(d, b, blockDimSlot, 1)
	bz := loadDimField(d, b, blockDimSlot, 2)
	bxy := b.Bin("bd.xy", ir.Mul, bx, by, ir.I32)
	total := b.Bin("bd.xyz", ir.Mul, bxy, bz, ir.I32)

	iSlot := b.Alloca("i.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	b.Store(iSlot, ir.ConstInt(ir.I32, 0))
	header, exit := emitCountedLoop(d, b, iSlot, total, func(b *ir.Builder, i ir.Value) *ir.BasicBlock {
		x := mod(d, b, i, bx)
		rem1 := b.Bin("thread.rem1", ir.UDiv, i, bx, ir.I32)
		y := mod(d, b, rem1, by)
		rem2 := b.Bin("thread.rem2", ir.UDiv, rem1, by, ir.I32)
		z := mod(d, b, rem2, bz)

		storeDim3Fields(d, b, threadIdxSlot, x, y, z)
		body(b, i)
		return b.Blk
	})
	_ = header
	return exit
}

// mod computes v % bound as v - (v/bound)*bound; the IR has no native
// remainder operator.
func mod(d *ir.Function, b *ir.Builder, v, bound ir.Value) ir.Value {
	q := b.Bin("mod.q", ir.UDiv, v, bound, ir.I32)
	p := b.Bin("mod.p", ir.Mul, q, bound, ir.I32)
	return b.Bin("mod.r", ir.Sub, v, p, ir.I32)
}

// storeDim3Fields stores x, y, z into the three fields of a Dim3Type
// slot. Used for the driver's thread-index slot and, from wrapper.go,
// for the self-contained variant's per-iteration block-index slot.
func storeDim3Fields(d *ir.Function, b *ir.Builder, slot ir.Value, x, y, z ir.Value) {
	gx := &ir.GEPInstr{Base: slot, Field: 0}
	finishAndPlace(d, b.Blk, nil, gx, freshName(d, "dim3.x"), ir.PointerType{Elem: ir.I32})
	b.Store(gx, x)
	gy := &ir.GEPInstr{Base: slot, Field: 1}
	finishAndPlace(d, b.Blk, nil, gy, freshName(d, "dim3.y"), ir.PointerType{Elem: ir.I32})
	b.Store(gy, y)
	gz := &ir.GEPInstr{Base: slot, Field: 2}
	finishAndPlace(d, b.Blk, nil, gz, freshName(d, "dim3.z"), ir.PointerType{Elem: ir.I32})
	b.Store(gz, z)
}

// linearIndex computes (z*by + y)*bx + x, the thread's row-major offset
// into the preserved-data array.
func linearIndex(d *ir.Function, b *ir.Builder, x, y, z, bx, by ir.Value) ir.Value {
	zy := b.Bin("lin.zy", ir.Mul, z, by, ir.I32)
	rows := b.Bin("lin.rows", ir.Add, zy, y, ir.I32)
	cols := b.Bin("lin.cols", ir.Mul, rows, bx, ir.I32)
	return b.Bin("lin.idx", ir.Add, cols, x, ir.I32)
}

// emitCountedLoop builds a standard header/body/latch/exit loop counting
// slot from its current value (assumed pre-stored) up to, but not
// including, bound. body is invoked with the builder positioned in the
// loop body and the current index value loaded from slot; it returns the
// block execution should continue in before falling through to the
// latch's increment. Returns (header, exit).
func emitCountedLoop(d *ir.Function, b *ir.Builder, slot ir.Value, bound ir.Value, body func(*ir.Builder, ir.Value) *ir.BasicBlock) (*ir.BasicBlock, *ir.BasicBlock) {
	header := d.NewBlock("loop.header")
	bodyBlock := d.NewBlock("loop.body")
	latch := d.NewBlock("loop.latch")
	exit := d.NewBlock("loop.exit")

	b.Br(header)

	hb := ir.NewBuilder(d, header)
	cur := hb.Load("loop.cur", slot)
	cond := hb.Cmp("loop.cond", ir.CmpLT, cur, bound)
	hb.CondBr(cond, bodyBlock, exit)

	bb := ir.NewBuilder(d, bodyBlock)
	curInBody := bb.Load("loop.i", slot)
	endBlock := body(bb, curInBody)
	eb := ir.NewBuilder(d, endBlock)
	eb.Br(latch)

	lb := ir.NewBuilder(d, latch)
	curInLatch := lb.Load("loop.i.latch", slot)
	next := lb.Bin("loop.next", ir.Add, curInLatch, ir.ConstInt(ir.I32, 1), ir.I32)
	lb.Store(slot, next)
	lb.Br(header)

	b.SetBlock(exit)
	return header, exit
}

// spliceInline splices a clone of sub's body directly into d in place of
// a call, remapping sub's parameters to args and merging every return
// edge into a continuation block via a phi of resultType, rather than
// emitting a CallInstr. Block ids are taken verbatim from sub's own
// numbering via CloneFunction; that numbering has no remaining
// significance once the body is inlined into a procedure that plays no
// further part in cross-subkernel dispatch, so a potential collision
// with d's own block ids is harmless for anything this pass does
// afterward. Used both for a subkernel call (§4.8) and, from
// wrapper.go, for materialising the dim3_to_arg helper's body in place
// of a plain call (§4.9, §6).
func spliceInline(d *ir.Function, b *ir.Builder, sub *ir.Function, args []ir.Value, resultType ir.Type) ir.Value {
	clone, cm := ir.CloneFunction(sub, sub.Name+".inl")
	for i, p := range clone.Params {
		if i < len(args) {
			replaceAllUses(clone, p, args[i])
		}
	}

	cont := d.NewBlock("inline.cont")
	resultPhi := &ir.PhiInstr{}
	finishAndPlace(d, cont, nil, resultPhi, freshName(d, "inline.result"), resultType)

	entryClone := clone.Entry()
	for _, in := range entryClone.Instrs {
		b.Blk.Append(in)
	}
	for _, other := range clone.Blocks {
		if other == entryClone {
			continue
		}
		d.Blocks = append(d.Blocks, other)
	}

	callerBlock := b.Blk
	for _, bb := range clone.Blocks {
		target := bb
		if bb == entryClone {
			target = callerBlock
		}
		if ret, ok := bb.Term.(*ir.RetTerm); ok {
			var v ir.Value = ir.NewUndef(resultType)
			if len(ret.Values) > 0 {
				v = ret.Values[0]
			}
			resultPhi.AddIncoming(target, v)
			target.SetTerm(&ir.BrTerm{Target: cont})
		}
	}
	if _, ok := entryClone.Term.(*ir.RetTerm); !ok {
		callerBlock.SetTerm(entryClone.Term)
	}

	_ = cm
	b.SetBlock(cont)
	return resultPhi
}

// emitInlinedCall is spliceInline specialised to a subkernel call, whose
// result is always the ⟨from_bb_id, next_sk_id⟩ pair type.
func emitInlinedCall(d *ir.Function, b *ir.Builder, sub *ir.Function, args []ir.Value) ir.Value {
	return spliceInline(d, b, sub, args, ir.PairType)
}
