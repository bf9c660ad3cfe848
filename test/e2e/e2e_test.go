// Package e2e runs the kernel splitting transformation end to end over
// the handful of scenarios spec.md §8 calls out, checking the shape of
// the transformed module rather than simulating it — an actual CPU
// execution harness is outside this repository's scope.
package e2e

import (
	"bytes"
	"strings"
	"testing"

	"splitkernel/internal/diag"
	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
	"splitkernel/internal/passes"
)

// withHelpers declares every companion symbol the pass requires before
// it will run to completion, then appends k.
func withHelpers(k *ir.Function) *ir.Module {
	m := &ir.Module{Name: "e2e"}
	for _, name := range intrinsics.RequiredHelpers() {
		fn := ir.NewFunction(name, nil, ir.VoidType{})
		b := fn.NewBlock("entry")
		ir.NewBuilder(fn, b).Ret()
		m.Funcs = append(m.Funcs, fn)
	}
	m.Funcs = append(m.Funcs, k)
	return m
}

func runPass(t *testing.T, m *ir.Module, opts passes.Options) *diag.Reporter {
	t.Helper()
	var buf bytes.Buffer
	rep := diag.NewReporter(&buf, "text")
	mgr := passes.NewManager(opts)
	if err := mgr.Run(m, rep); err != nil {
		t.Fatalf("manager run failed: %v", err)
	}
	if rep.HasErrors() {
		t.Fatalf("pass reported errors: %s", buf.String())
	}
	return rep
}

func countSubkernels(m *ir.Module, kernelName string) int {
	n := 0
	prefix := kernelName + ".sk"
	for _, f := range m.Funcs {
		if strings.HasPrefix(f.Name, prefix) {
			n++
		}
	}
	return n
}

// (a) a kernel with no barrier splits into exactly one subkernel, and
// the wrapper/driver/self-contained trio is all that is added.
func TestScenarioNoBarrier(t *testing.T) {
	k := ir.NewFunction("nobarrier", []ir.Type{ir.PointerType{Elem: ir.F32}}, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	b := ir.NewBuilder(k, entry)
	b.Store(k.Params[0], ir.ConstFloat(ir.F32, 1))
	b.Ret()
	m := withHelpers(k)

	runPass(t, m, passes.DefaultOptions())

	if got := countSubkernels(m, "nobarrier"); got != 1 {
		t.Fatalf("expected exactly 1 subkernel for a barrier-free kernel, got %d", got)
	}
	if m.FuncByName("nobarrier") == nil {
		t.Fatalf("expected the wrapper to assume the kernel's original name")
	}
	if m.FuncByName("nobarrier.driver") == nil {
		t.Fatalf("expected a driver procedure")
	}
	if m.FuncByName("nobarrier.self_contained") == nil {
		t.Fatalf("expected a self-contained outer variant")
	}
}

// (c) a loop that re-enters the same block after a barrier still yields
// exactly two subkernels — the loop body after the barrier is its own
// subkernel regardless of how many times control returns to it.
func TestScenarioLoopAroundBarrier(t *testing.T) {
	k := ir.NewFunction("loopbar", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	loop := k.NewBlock("loop")
	exit := k.NewBlock("exit")

	eb := ir.NewBuilder(k, entry)
	slot := eb.Alloca("i.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	eb.Store(slot, ir.ConstInt(ir.I32, 0))
	eb.Br(loop)

	lb := ir.NewBuilder(k, loop)
	lb.Call("sync", nil, intrinsics.BarrierName, ir.VoidType{})
	iv := lb.Load("iv", slot)
	next := lb.Bin("next", ir.Add, iv, ir.ConstInt(ir.I32, 1), ir.I32)
	lb.Store(slot, next)
	cond := lb.Cmp("done", ir.CmpLT, next, ir.ConstInt(ir.I32, 4))
	lb.CondBr(cond, loop, exit)

	xb := ir.NewBuilder(k, exit)
	xb.Ret()

	m := withHelpers(k)
	runPass(t, m, passes.DefaultOptions())

	if got := countSubkernels(m, "loopbar"); got != 2 {
		t.Fatalf("expected 2 subkernels (entry region, post-barrier loop body), got %d", got)
	}
}

// (b) a one-barrier tiled matmul: two static-shared tiles, a barrier
// after the tile load, an accumulation loop, and a second barrier after
// the loop. Expect several subkernels and a preserved-data record that
// threads the running accumulator across at least one of the barriers.
func TestScenarioTiledMatmul(t *testing.T) {
	f32ptr := ir.PointerType{Elem: ir.F32}
	k := ir.NewFunction("mat_mul", []ir.Type{f32ptr, f32ptr, f32ptr, ir.I32}, ir.VoidType{})
	k.KernelEntry = true
	a, bMat, c, n := k.Params[0], k.Params[1], k.Params[2], k.Params[3]

	entry := k.NewBlock("entry")
	loadTile := k.NewBlock("load_tile")
	accumulate := k.NewBlock("accumulate")
	postLoop := k.NewBlock("post_loop")
	epilogue := k.NewBlock("epilogue")

	m := &ir.Module{Name: "e2e"}
	sa := m.AddGlobal("sa", ir.ArrayType{Elem: ir.F32, Count: 16}, ir.StaticShared)
	sb := m.AddGlobal("sb", ir.ArrayType{Elem: ir.F32, Count: 16}, ir.StaticShared)

	eb := ir.NewBuilder(k, entry)
	accAddr := eb.Alloca("acc.addr", ir.F32, ir.ConstInt(ir.I32, 1))
	eb.Store(accAddr, ir.ConstFloat(ir.F32, 0))
	ivAddr := eb.Alloca("iv.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	eb.Store(ivAddr, ir.ConstInt(ir.I32, 0))
	eb.Br(loadTile)

	ltb := ir.NewBuilder(k, loadTile)
	saAddr := ltb.GlobalAddr("sa.addr", sa)
	sbAddr := ltb.GlobalAddr("sb.addr", sb)
	saSlot := ltb.Index("sa.slot", saAddr, ir.ConstInt(ir.I32, 0), ir.F32)
	sbSlot := ltb.Index("sb.slot", sbAddr, ir.ConstInt(ir.I32, 0), ir.F32)
	aVal := ltb.Load("a.val", a)
	bVal := ltb.Load("b.val", bMat)
	ltb.Store(saSlot, aVal)
	ltb.Store(sbSlot, bVal)
	ltb.Call("sync", nil, intrinsics.BarrierName, ir.VoidType{})
	ltb.Br(accumulate)

	ab := ir.NewBuilder(k, accumulate)
	saAddr2 := ab.GlobalAddr("sa.addr2", sa)
	sbAddr2 := ab.GlobalAddr("sb.addr2", sb)
	iv := ab.Load("iv", ivAddr)
	acc := ab.Load("acc", accAddr)
	saVal := ab.Load("sa.val", ab.Index("sa.elem", saAddr2, iv, ir.F32))
	sbVal := ab.Load("sb.val", ab.Index("sb.elem", sbAddr2, iv, ir.F32))
	prod := ab.Bin("prod", ir.Mul, saVal, sbVal, ir.F32)
	newAcc := ab.Bin("new.acc", ir.Add, acc, prod, ir.F32)
	ab.Store(accAddr, newAcc)
	newIv := ab.Bin("new.iv", ir.Add, iv, ir.ConstInt(ir.I32, 1), ir.I32)
	ab.Store(ivAddr, newIv)
	cond := ab.Cmp("loop.cond", ir.CmpLT, newIv, n)
	ab.CondBr(cond, accumulate, postLoop)

	plb := ir.NewBuilder(k, postLoop)
	plb.Call("sync", nil, intrinsics.BarrierName, ir.VoidType{})
	plb.Br(epilogue)

	epb := ir.NewBuilder(k, epilogue)
	finalAcc := epb.Load("final.acc", accAddr)
	epb.Store(c, finalAcc)
	epb.Ret()

	for _, name := range intrinsics.RequiredHelpers() {
		fn := ir.NewFunction(name, nil, ir.VoidType{})
		hb := fn.NewBlock("entry")
		ir.NewBuilder(fn, hb).Ret()
		m.Funcs = append(m.Funcs, fn)
	}
	m.Funcs = append(m.Funcs, k)

	runPass(t, m, passes.DefaultOptions())

	gotSubkernels := countSubkernels(m, "mat_mul")
	if gotSubkernels < 2 {
		t.Fatalf("expected at least 2 subkernels for a two-barrier tiled matmul, got %d", gotSubkernels)
	}

	for _, g := range m.Globals {
		if g == sa || g == sb {
			t.Fatalf("expected both shared tiles to be erased once every use is rewritten")
		}
	}

	foundAccumulatorField := false
	for _, f := range m.Funcs {
		if !strings.HasPrefix(f.Name, "mat_mul.sk") {
			continue
		}
		for _, p := range f.Params {
			if p.Name() != "preserved" {
				continue
			}
			ptr, ok := p.Type().(ir.PointerType)
			if !ok {
				continue
			}
			st, ok := ptr.Elem.(*ir.StructType)
			if !ok {
				continue
			}
			for _, field := range st.Fields {
				if field.Equal(f32ptr) {
					foundAccumulatorField = true
				}
			}
		}
	}
	if !foundAccumulatorField {
		t.Fatalf("expected some subkernel's preserved-data record to carry the running accumulator's address")
	}
}

// (d) a statically-sized __shared__ global used by the kernel is packed
// into a shared-vars record and must not survive the pass as a
// standalone global (§8, TP 7).
func TestScenarioSharedGlobal(t *testing.T) {
	k := ir.NewFunction("usesshared", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	b := ir.NewBuilder(k, entry)
	m := &ir.Module{Name: "e2e"}
	tile := m.AddGlobal("tile", ir.ArrayType{Elem: ir.F32, Count: 16}, ir.StaticShared)
	addr := b.GlobalAddr("tile.addr", tile)
	_ = addr
	b.Ret()
	for _, name := range intrinsics.RequiredHelpers() {
		fn := ir.NewFunction(name, nil, ir.VoidType{})
		hb := fn.NewBlock("entry")
		ir.NewBuilder(fn, hb).Ret()
		m.Funcs = append(m.Funcs, fn)
	}
	m.Funcs = append(m.Funcs, k)

	runPass(t, m, passes.DefaultOptions())

	for _, g := range m.Globals {
		if g == tile {
			t.Fatalf("expected the shared global to be erased once every use is rewritten")
		}
	}
}

// (e) an alloca whose live range crosses a barrier must be preserved
// across the subkernel boundary — the pass must not error out, and the
// post-barrier subkernel must receive a preserved-data record.
func TestScenarioAllocaAcrossBarrier(t *testing.T) {
	k := ir.NewFunction("allocacross", nil, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	after := k.NewBlock("after")

	eb := ir.NewBuilder(k, entry)
	slot := eb.Alloca("x.addr", ir.I32, ir.ConstInt(ir.I32, 1))
	eb.Store(slot, ir.ConstInt(ir.I32, 7))
	eb.Call("sync", nil, intrinsics.BarrierName, ir.VoidType{})
	eb.Br(after)

	ab := ir.NewBuilder(k, after)
	v := ab.Load("v", slot)
	_ = v
	ab.Ret()

	m := withHelpers(k)
	runPass(t, m, passes.DefaultOptions())

	sk1 := m.FuncByName("allocacross.sk1")
	if sk1 == nil {
		t.Fatalf("expected a second subkernel after the barrier")
	}
	foundPreserved := false
	for _, p := range sk1.Params {
		if p.Name() == "preserved" {
			foundPreserved = true
		}
	}
	if !foundPreserved {
		t.Fatalf("expected the post-barrier subkernel to receive a preserved-data record carrying the alloca's address")
	}
}

// (f) a pure GEP rooted at a parameter is rematerialised in the
// post-barrier subkernel rather than threaded through the preserved-data
// record, per canRematerialize.
func TestScenarioRematerialisedAddress(t *testing.T) {
	cellType := &ir.StructType{Name: "remat_cell", Fields: []ir.Type{ir.F32, ir.F32}}
	k := ir.NewFunction("remat", []ir.Type{ir.PointerType{Elem: cellType}}, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	after := k.NewBlock("after")

	eb := ir.NewBuilder(k, entry)
	field := eb.GEP("field1", k.Params[0], 1)
	eb.Call("sync", nil, intrinsics.BarrierName, ir.VoidType{})
	eb.Br(after)

	ab := ir.NewBuilder(k, after)
	ab.Store(field, ir.ConstFloat(ir.F32, 2))
	ab.Ret()

	m := withHelpers(k)
	runPass(t, m, passes.DefaultOptions())

	sk1 := m.FuncByName("remat.sk1")
	if sk1 == nil {
		t.Fatalf("expected a second subkernel after the barrier")
	}
	for _, p := range sk1.Params {
		if p.Name() == "preserved" {
			t.Fatalf("expected the field address to be rematerialised from the parameter rather than threaded through a preserved-data record")
		}
	}
	foundGEP := false
	for _, b := range sk1.Blocks {
		for _, in := range b.Instrs {
			if g, ok := in.(*ir.GEPInstr); ok && g.Field == 1 {
				foundGEP = true
			}
		}
	}
	if !foundGEP {
		t.Fatalf("expected the post-barrier subkernel to recompute the field address with its own GEP")
	}
}
