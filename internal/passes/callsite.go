package passes

import (
	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// rewriteCallSites implements §6's call-site rewriting. Every surviving
// direct call to the original kernel entry k, anywhere else in the
// module, is replaced by: a heap-allocated argument array with one
// heap-allocated, stored-into slot per user-level argument (skipped
// entirely for a zero-argument call, matching the companion runtime's
// own short-circuit); a call to whichever of the four recognised launch
// entries matches both the call site's configuration shape and
// opts.OuterVariant, passing a FuncAddrInstr of the wrapper or
// self-contained procedure as the target; and, once that call returns,
// a Dealloc of the argument array and every slot it held, since nothing
// downstream of the launch entry can still be holding a reference to
// them.
func rewriteCallSites(m *ir.Module, k *ir.Function, wrapper, selfContained *ir.Function, up []*ir.Param, opts Options, rep *diag.Reporter) {
	target := wrapper
	pushedName, explicitName := intrinsics.LaunchKernelWithPushedConfiguration, intrinsics.LaunchKernel
	if opts.OuterVariant == VariantSelfContained {
		target = selfContained
		pushedName, explicitName = intrinsics.LaunchKernelSelfContainedWithPushedConfiguration, intrinsics.LaunchKernelSelfContained
	}
	pushedEntry := m.FuncByName(pushedName)
	explicitEntry := m.FuncByName(explicitName)

	for _, fn := range m.Funcs {
		if fn == k || fn == wrapper || fn == selfContained {
			continue
		}
		for _, blk := range fn.Blocks {
			for _, in := range append([]ir.Instruction{}, blk.Instrs...) {
				call, ok := in.(*ir.CallInstr)
				if !ok || call.Callee != k {
					continue
				}
				rewriteOneCallSite(fn, blk, call, target, pushedEntry, explicitEntry, len(up), rep)
			}
		}
	}
}

// rewriteOneCallSite classifies call's argument shape (§6, Call-site
// rewriting): an explicit-configuration call site prefixes the
// user-level arguments with [grid_dim, block_dim, shared_mem_size],
// detected by arity plus the first two arguments being dim3-valued;
// anything else is a pushed-configuration call site relying on a
// separately modeled, untouched push-configuration call elsewhere in
// the caller, so only the user-level arguments remain to coalesce.
func rewriteOneCallSite(fn *ir.Function, blk *ir.BasicBlock, call *ir.CallInstr, target, pushedEntry, explicitEntry *ir.Function, nUserArgs int, rep *diag.Reporter) {
	before := ir.Instruction(call)

	explicit := len(call.Args) == nUserArgs+3 && dim3Typed(call.Args, 0) && dim3Typed(call.Args, 1)
	var gridDimVal, blockDimVal, sharedMemVal ir.Value
	var userArgs []ir.Value
	if explicit {
		gridDimVal, blockDimVal, sharedMemVal = call.Args[0], call.Args[1], call.Args[2]
		userArgs = call.Args[3:]
	} else {
		userArgs = call.Args
		sharedMemVal = ir.ConstInt(ir.I32, 0)
	}

	entry := pushedEntry
	if explicit {
		entry = explicitEntry
	}
	if entry == nil {
		rep.Errorf("module is missing required launch runtime entry point for call site in %q", fn.Name)
		removeInstr(call)
		return
	}

	var argArray ir.Value = ir.NewUndef(ir.PointerType{Elem: ir.VoidPtr})
	var slots []ir.Value
	if len(userArgs) > 0 {
		argArray, slots = emitArgArray(fn, blk, before, userArgs)
	}

	fnAddr := &ir.FuncAddrInstr{Fn: target}
	finishAndPlace(fn, blk, before, fnAddr, freshName(fn, "launch.func"), ir.VoidPtr)

	var callArgs []ir.Value
	if explicit {
		callArgs = []ir.Value{fnAddr, gridDimVal, blockDimVal, argArray, sharedMemVal}
	} else {
		callArgs = []ir.Value{fnAddr, argArray}
	}
	launchCall := &ir.CallInstr{Callee: entry, Args: callArgs}
	finishAndPlace(fn, blk, before, launchCall, freshName(fn, "launch.call"), ir.I32)

	for _, slot := range slots {
		d := &ir.DeallocInstr{Ptr: slot}
		finishAndPlace(fn, blk, before, d, freshName(fn, "call.arg.free"), ir.VoidType{})
	}
	if len(userArgs) > 0 {
		d := &ir.DeallocInstr{Ptr: argArray}
		finishAndPlace(fn, blk, before, d, freshName(fn, "call.argarray.free"), ir.VoidType{})
	}

	removeInstr(call)
}

// emitArgArray heap-allocates the argument array and, for each argument,
// a heap slot sized to its type holding a copy of the value; the slot's
// address, bitcast to a bare pointer, is stored into the array. It
// returns the array and the slots, so the caller can free both once the
// launch entry call they feed returns.
func emitArgArray(fn *ir.Function, blk *ir.BasicBlock, before ir.Instruction, args []ir.Value) (ir.Value, []ir.Value) {
	arr := &ir.AllocaInstr{ElemType: ir.VoidPtr, Count: ir.ConstInt(ir.I32, int64(len(args))), IsHeap: true}
	finishAndPlace(fn, blk, before, arr, freshName(fn, "call.argarray"), ir.PointerType{Elem: ir.VoidPtr})

	slots := make([]ir.Value, len(args))
	for i, a := range args {
		slot := &ir.AllocaInstr{ElemType: a.Type(), Count: ir.ConstInt(ir.I32, 1), IsHeap: true}
		finishAndPlace(fn, blk, before, slot, freshName(fn, "call.arg"), ir.PointerType{Elem: a.Type()})
		st := &ir.StoreInstr{Ptr: slot, Val: a}
		finishAndPlace(fn, blk, before, st, freshName(fn, "call.argstore"), ir.VoidType{})

		cast := &ir.BitCastInstr{Value: slot}
		finishAndPlace(fn, blk, before, cast, freshName(fn, "call.argptr"), ir.VoidPtr)

		slotInArr := &ir.IndexInstr{Base: arr, Index: ir.ConstInt(ir.I32, int64(i)), ElemType: ir.VoidPtr}
		finishAndPlace(fn, blk, before, slotInArr, freshName(fn, "call.argslot"), ir.PointerType{Elem: ir.VoidPtr})
		st2 := &ir.StoreInstr{Ptr: slotInArr, Val: cast}
		finishAndPlace(fn, blk, before, st2, freshName(fn, "call.argarraystore"), ir.VoidType{})

		slots[i] = slot
	}
	return arr, slots
}

func dim3Typed(args []ir.Value, i int) bool {
	return i < len(args) && args[i].Type().Equal(ir.Dim3Type)
}
