package passes

import (
	"strings"
	"testing"

	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// TestTransformKernelReportsMissingHelpersFatally checks that
// TransformKernel bails out before touching the module at all when a
// required helper symbol is absent, rather than partially transforming
// the kernel and leaving the module in a half-rewritten state.
func TestTransformKernelReportsMissingHelpersFatally(t *testing.T) {
	m := &ir.Module{Name: "incomplete"}
	k := ir.NewFunction("lonely", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	ir.NewBuilder(k, entry).Ret()
	m.Funcs = append(m.Funcs, k)

	var buf strings.Builder
	rep := diag.NewReporter(&buf, "text")
	TransformKernel(m, k, DefaultOptions(), rep)

	if !rep.HasErrors() {
		t.Fatalf("expected a missing-helper-symbol diagnostic")
	}
	if !strings.Contains(buf.String(), "missing required helper symbol") {
		t.Fatalf("expected the missing-helper diagnostic text, got %q", buf.String())
	}
	if len(m.Funcs) != 1 {
		t.Fatalf("expected the module to be untouched after a fatal precondition failure, got %d funcs", len(m.Funcs))
	}
}

// TestTransformKernelReplacesOriginalInPlace checks that the variant
// chosen to assume the kernel's original name replaces k at its
// original position in m.Funcs, and the other variant is appended.
func TestTransformKernelReplacesOriginalInPlace(t *testing.T) {
	k := ir.NewFunction("addone", []ir.Type{ir.PointerType{Elem: ir.I32}}, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	eb := ir.NewBuilder(k, entry)
	v := eb.Load("v", k.Params[0])
	next := eb.Bin("next", ir.Add, v, ir.ConstInt(ir.I32, 1), ir.I32)
	eb.Store(k.Params[0], next)
	eb.Ret()

	m := helperModule(k)
	kIndex := -1
	for i, f := range m.Funcs {
		if f == k {
			kIndex = i
		}
	}
	if kIndex < 0 {
		t.Fatalf("setup error: kernel not found in module funcs")
	}

	runFullPipeline(t, m, DefaultOptions())

	if m.Funcs[kIndex].Name != "addone" {
		t.Fatalf("expected the procedure named %q to occupy the kernel's original slot, found %q", "addone", m.Funcs[kIndex].Name)
	}
	for _, f := range m.Funcs {
		if f == k {
			t.Fatalf("expected the original kernel function value to no longer be present in m.Funcs")
		}
	}
	if m.FuncByName("addone.self_contained") == nil {
		t.Fatalf("expected the self-contained variant appended under its own name")
	}
}

// TestTransformKernelCleanupRemovesFullyRewrittenSharedGlobal checks
// that cleanupModule (run once after every kernel is transformed) drops
// a shared global once no function addresses it directly any more.
func TestTransformKernelCleanupRemovesFullyRewrittenSharedGlobal(t *testing.T) {
	k := ir.NewFunction("usetile", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")

	m := helperModule(k)
	tile := m.AddGlobal("tile", ir.ArrayType{Elem: ir.F32, Count: 8}, ir.StaticShared)
	eb := ir.NewBuilder(k, entry)
	eb.GlobalAddr("tile.addr", tile)
	eb.Ret()

	runFullPipeline(t, m, DefaultOptions())

	for _, g := range m.Globals {
		if g == tile {
			t.Fatalf("expected the fully-rewritten shared global to be removed by cleanup")
		}
	}
}
