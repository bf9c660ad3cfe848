package passes

import (
	"testing"

	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// TestRewriteCallSitesExplicitConfiguration builds a caller passing an
// explicit (grid_dim, block_dim, shared_mem_size) configuration ahead
// of the kernel's own argument, and checks the call site ends up
// targeting the explicit-configuration launch entry with a FuncAddrInstr
// naming the generated wrapper, and that the original direct call to
// the kernel is gone.
func TestRewriteCallSitesExplicitConfiguration(t *testing.T) {
	k := ir.NewFunction("zero", []ir.Type{ir.PointerType{Elem: ir.F32}}, ir.VoidType{})
	k.KernelEntry = true
	kEntry := k.NewBlock("entry")
	keb := ir.NewBuilder(k, kEntry)
	keb.Store(k.Params[0], ir.ConstFloat(ir.F32, 0))
	keb.Ret()

	caller := ir.NewFunction("host_launch", []ir.Type{ir.Dim3Type, ir.Dim3Type, ir.PointerType{Elem: ir.F32}}, ir.VoidType{})
	cEntry := caller.NewBlock("entry")
	cb := ir.NewBuilder(caller, cEntry)
	cb.Call("launch", k, "", ir.VoidType{}, caller.Params[0], caller.Params[1], ir.ConstInt(ir.I32, 0), caller.Params[2])
	cb.Ret()

	m := helperModule(k, caller)
	runFullPipeline(t, m, DefaultOptions())

	hostLaunch := m.FuncByName("host_launch")
	if hostLaunch == nil {
		t.Fatalf("expected the caller function to survive the pass")
	}

	wrapper := m.FuncByName("zero")
	if wrapper == nil {
		t.Fatalf("expected the wrapper to assume the kernel's original name")
	}

	explicitEntry := m.FuncByName(intrinsics.LaunchKernel)
	if explicitEntry == nil {
		t.Fatalf("expected the module's LaunchKernel helper to remain declared")
	}

	var foundLaunchCall bool
	var foundFuncAddr bool
	var stillCallsKernelDirectly bool
	for _, b := range hostLaunch.Blocks {
		for _, in := range b.Instrs {
			if call, ok := in.(*ir.CallInstr); ok {
				if call.Callee == explicitEntry {
					foundLaunchCall = true
				}
				if call.Callee == k {
					stillCallsKernelDirectly = true
				}
			}
			if fa, ok := in.(*ir.FuncAddrInstr); ok && fa.Fn == wrapper {
				foundFuncAddr = true
			}
		}
	}

	if stillCallsKernelDirectly {
		t.Fatalf("expected the original direct call to the kernel to be rewritten away")
	}
	if !foundLaunchCall {
		t.Fatalf("expected the call site to be rewritten into a call to the explicit-configuration launch entry")
	}
	if !foundFuncAddr {
		t.Fatalf("expected a FuncAddrInstr targeting the generated wrapper")
	}
}

// TestRewriteCallSitesPushedConfiguration builds a caller whose call
// site carries only the kernel's own argument, exercising the
// pushed-configuration shape, and checks it targets the pushed-
// configuration launch entry instead.
func TestRewriteCallSitesPushedConfiguration(t *testing.T) {
	k := ir.NewFunction("bump", []ir.Type{ir.PointerType{Elem: ir.I32}}, ir.VoidType{})
	k.KernelEntry = true
	kEntry := k.NewBlock("entry")
	keb := ir.NewBuilder(k, kEntry)
	keb.Store(k.Params[0], ir.ConstInt(ir.I32, 1))
	keb.Ret()

	caller := ir.NewFunction("host_launch_pushed", []ir.Type{ir.PointerType{Elem: ir.I32}}, ir.VoidType{})
	cEntry := caller.NewBlock("entry")
	cb := ir.NewBuilder(caller, cEntry)
	cb.Call("launch", k, "", ir.VoidType{}, caller.Params[0])
	cb.Ret()

	m := helperModule(k, caller)
	runFullPipeline(t, m, DefaultOptions())

	hostLaunch := m.FuncByName("host_launch_pushed")
	pushedEntry := m.FuncByName(intrinsics.LaunchKernelWithPushedConfiguration)
	if pushedEntry == nil {
		t.Fatalf("expected the module's pushed-configuration launch helper to remain declared")
	}

	found := false
	for _, b := range hostLaunch.Blocks {
		for _, in := range b.Instrs {
			if call, ok := in.(*ir.CallInstr); ok && call.Callee == pushedEntry {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected the pushed-configuration call site to target the pushed-configuration launch entry")
	}
}
