package validate

import (
	"bytes"
	"strings"
	"testing"

	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// requiredHelperFuncs declares every symbol intrinsics.RequiredHelpers
// names, with a minimal body, so a test module can satisfy the
// missing-helper-symbol check while exercising the rest of the checker.
func requiredHelperFuncs() []*ir.Function {
	var fns []*ir.Function
	for _, name := range intrinsics.RequiredHelpers() {
		fn := ir.NewFunction(name, nil, ir.VoidType{})
		b := fn.NewBlock("entry")
		ir.NewBuilder(fn, b).Ret()
		fns = append(fns, fn)
	}
	return fns
}

func runCheck(t *testing.T, m *ir.Module) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	reporter := diag.NewReporter(&buf, "text")
	err := CheckModule(m, reporter)
	return buf.String(), err
}

func TestCheckModuleAllowsWellFormedKernel(t *testing.T) {
	m := &ir.Module{Name: "ok"}
	m.Funcs = append(m.Funcs, requiredHelperFuncs()...)

	k := ir.NewFunction("saxpy", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	exit := k.NewBlock("exit")

	eb := ir.NewBuilder(k, entry)
	eb.Call("tid", nil, "llvm.nvvm.read.ptx.sreg.tid.x", ir.I32)
	eb.Call("sync", nil, intrinsics.BarrierName, ir.VoidType{})
	eb.Br(exit)

	xb := ir.NewBuilder(k, exit)
	xb.Ret()

	m.Funcs = append(m.Funcs, k)

	diags, err := runCheck(t, m)
	if err != nil {
		t.Fatalf("expected success, got error %v with diagnostics %q", err, diags)
	}
	if diags != "" {
		t.Fatalf("expected no diagnostics, got %q", diags)
	}
}

func TestCheckModuleRejectsUnsupportedTerminator(t *testing.T) {
	m := &ir.Module{Name: "bad"}
	m.Funcs = append(m.Funcs, requiredHelperFuncs()...)

	k := ir.NewFunction("weird", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	ir.NewBuilder(k, entry).Unreachable()
	m.Funcs = append(m.Funcs, k)

	diags, err := runCheck(t, m)
	if err == nil {
		t.Fatalf("expected an unsupported terminator to fail validation")
	}
	if !strings.Contains(diags, "unsupported terminator") {
		t.Fatalf("expected an unsupported terminator diagnostic, got %q", diags)
	}
}

func TestCheckModuleRejectsUnrecognisedIntrinsic(t *testing.T) {
	m := &ir.Module{Name: "bad"}
	m.Funcs = append(m.Funcs, requiredHelperFuncs()...)

	k := ir.NewFunction("oddcall", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	eb := ir.NewBuilder(k, entry)
	eb.Call("x", nil, "llvm.nvvm.made.up.thing", ir.I32)
	eb.Ret()
	m.Funcs = append(m.Funcs, k)

	diags, err := runCheck(t, m)
	if err == nil {
		t.Fatalf("expected an unrecognised intrinsic to fail validation")
	}
	if !strings.Contains(diags, "unrecognised intrinsic") {
		t.Fatalf("expected an unrecognised intrinsic diagnostic, got %q", diags)
	}
}

func TestCheckModuleRejectsMultipleDynamicSharedGlobals(t *testing.T) {
	m := &ir.Module{Name: "bad"}
	tileA := m.AddGlobal("tileA", ir.IntType{Width: 8}, ir.DynamicShared)
	tileB := m.AddGlobal("tileB", ir.IntType{Width: 8}, ir.DynamicShared)
	m.Funcs = append(m.Funcs, requiredHelperFuncs()...)

	sink := ir.NewFunction("sink", []ir.Type{ir.VoidPtr, ir.VoidPtr}, ir.VoidType{})
	sb := sink.NewBlock("entry")
	ir.NewBuilder(sink, sb).Ret()
	m.Funcs = append(m.Funcs, sink)

	k := ir.NewFunction("twotiles", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	eb := ir.NewBuilder(k, entry)
	eb.Call("r", sink, "", ir.VoidType{}, tileA, tileB)
	eb.Ret()
	m.Funcs = append(m.Funcs, k)

	diags, err := runCheck(t, m)
	if err == nil {
		t.Fatalf("expected two dynamic-shared globals to fail validation")
	}
	if !strings.Contains(diags, "dynamic-shared globals") {
		t.Fatalf("expected a dynamic-shared diagnostic, got %q", diags)
	}
}

func TestCheckModuleRejectsMissingHelperSymbol(t *testing.T) {
	m := &ir.Module{Name: "bad"}
	k := ir.NewFunction("lonely", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	ir.NewBuilder(k, entry).Ret()
	m.Funcs = append(m.Funcs, k)

	diags, err := runCheck(t, m)
	if err == nil {
		t.Fatalf("expected missing helper symbols to fail validation")
	}
	if !strings.Contains(diags, "missing required helper symbol") {
		t.Fatalf("expected a missing-helper diagnostic, got %q", diags)
	}
}
