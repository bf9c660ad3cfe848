package passes

import (
	"strings"
	"testing"

	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

func helperModule(extraFuncs ...*ir.Function) *ir.Module {
	m := &ir.Module{Name: "driverfixture"}
	for _, name := range intrinsics.RequiredHelpers() {
		fn := ir.NewFunction(name, nil, ir.VoidType{})
		b := fn.NewBlock("entry")
		ir.NewBuilder(fn, b).Ret()
		m.Funcs = append(m.Funcs, fn)
	}
	m.Funcs = append(m.Funcs, extraFuncs...)
	return m
}

func runFullPipeline(t *testing.T, m *ir.Module, opts Options) {
	t.Helper()
	var buf strings.Builder
	rep := diag.NewReporter(&buf, "text")
	if err := NewManager(opts).Run(m, rep); err != nil {
		t.Fatalf("manager run failed: %v (diagnostics: %s)", err, buf.String())
	}
	if rep.HasErrors() {
		t.Fatalf("pass reported errors: %s", buf.String())
	}
}

// TestBuildDriverSignatureAndDispatchBlocks checks that the generated
// driver takes the kernel's user parameters followed by the launch
// coordinates, and that its trampoline has the three named blocks the
// dispatch loop depends on.
func TestBuildDriverSignatureAndDispatchBlocks(t *testing.T) {
	k := ir.NewFunction("scale", []ir.Type{ir.PointerType{Elem: ir.F32}}, ir.VoidType{})
	k.KernelEntry = true
	k.Params[0].SetName("x")
	entry := k.NewBlock("entry")
	eb := ir.NewBuilder(k, entry)
	eb.Store(k.Params[0], ir.ConstFloat(ir.F32, 2))
	eb.Ret()

	m := helperModule(k)
	runFullPipeline(t, m, DefaultOptions())

	d := m.FuncByName("scale.driver")
	if d == nil {
		t.Fatalf("expected a driver procedure to be generated")
	}

	wantParamNames := []string{"x", "grid_dim", "block_idx", "block_dim", "shared_mem_size"}
	if len(d.Params) != len(wantParamNames) {
		t.Fatalf("expected driver params %v, got %d params", wantParamNames, len(d.Params))
	}
	for i, p := range d.Params {
		if p.Name() != wantParamNames[i] {
			t.Errorf("param %d: expected name %q, got %q", i, wantParamNames[i], p.Name())
		}
	}

	var blockNames []string
	for _, b := range d.Blocks {
		blockNames = append(blockNames, b.Name())
	}
	joined := strings.Join(blockNames, ",")
	for _, want := range []string{"dispatch.header", "dispatch.switch", "dispatch.exit"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected a block named like %q among %v", want, blockNames)
		}
	}
}

// TestBuildDriverSingleDimThreadLoopCoversFullBlockVolume confirms the
// single-dimension thread loop bound is the product of all three block
// dimensions, not blockDim.x alone, so a kernel launched with a
// non-trivial y/z extent still visits every thread once.
func TestBuildDriverSingleDimThreadLoopCoversFullBlockVolume(t *testing.T) {
	k := ir.NewFunction("flat", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	ir.NewBuilder(k, entry).Ret()

	m := helperModule(k)
	opts := DefaultOptions()
	opts.SingleDimThreadLoop = true
	runFullPipeline(t, m, opts)

	d := m.FuncByName("flat.driver")
	if d == nil {
		t.Fatalf("expected a driver procedure to be generated")
	}

	foundXY := false
	foundXYZ := false
	for _, b := range d.Blocks {
		for _, in := range b.Instrs {
			bin, ok := in.(*ir.BinInstr)
			if !ok || bin.Op != ir.Mul {
				continue
			}
			if bin.Name() == "bd.xy" {
				foundXY = true
			}
			if bin.Name() == "bd.xyz" {
				foundXYZ = true
			}
		}
	}
	if !foundXY || !foundXYZ {
		t.Fatalf("expected the single-dim thread loop to compute blockDim.x*y*z as its bound (foundXY=%v foundXYZ=%v)", foundXY, foundXYZ)
	}
}
