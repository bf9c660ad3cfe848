package ir

import "testing"

// buildDiamond builds:
//
//	entry -> left, right
//	left -> join
//	right -> join
//
// with a φ node in join selecting between a value defined in left and one
// defined in right.
func buildDiamond(t *testing.T) (*Function, map[string]*BasicBlock, *PhiInstr) {
	t.Helper()
	fn := NewFunction("diamond", []Type{I32}, I32)
	entry := fn.NewBlock("entry")
	left := fn.NewBlock("left")
	right := fn.NewBlock("right")
	join := fn.NewBlock("join")

	eb := NewBuilder(fn, entry)
	cond := eb.Cmp("cond", CmpLT, fn.Params[0], ConstInt(I32, 0))
	eb.CondBr(cond, left, right)

	lb := NewBuilder(fn, left)
	lv := lb.Bin("lv", Add, fn.Params[0], ConstInt(I32, 1), I32)
	lb.Br(join)

	rb := NewBuilder(fn, right)
	rv := rb.Bin("rv", Sub, fn.Params[0], ConstInt(I32, 1), I32)
	rb.Br(join)

	jb := NewBuilder(fn, join)
	phi := jb.Phi("merged", I32)
	phi.AddIncoming(left, lv)
	phi.AddIncoming(right, rv)
	jb.Ret(phi)

	return fn, map[string]*BasicBlock{"entry": entry, "left": left, "right": right, "join": join}, phi
}

func TestCloneFunctionPreservesBlockIDsAndRewritesPhis(t *testing.T) {
	fn, blocks, _ := buildDiamond(t)
	clone, cm := CloneFunction(fn, "diamond_clone")

	if len(clone.Blocks) != len(fn.Blocks) {
		t.Fatalf("expected %d blocks, got %d", len(fn.Blocks), len(clone.Blocks))
	}
	for _, b := range fn.Blocks {
		nb := cm.Blocks[b]
		if nb == nil {
			t.Fatalf("block %s not present in clone map", b.Name())
		}
		if nb.ID() != b.ID() {
			t.Errorf("block %s: clone id %d != source id %d", b.Name(), nb.ID(), b.ID())
		}
	}

	joinClone := cm.Blocks[blocks["join"]]
	var phiClone *PhiInstr
	for _, in := range joinClone.Instrs {
		if p, ok := in.(*PhiInstr); ok {
			phiClone = p
		}
	}
	if phiClone == nil {
		t.Fatalf("clone's join block has no phi")
	}
	if len(phiClone.Incoming) != 2 {
		t.Fatalf("expected 2 incoming edges, got %d", len(phiClone.Incoming))
	}
	for _, e := range phiClone.Incoming {
		if e.Pred.Func() != clone {
			t.Errorf("phi incoming predecessor %s belongs to the wrong function", e.Pred.Name())
		}
		if _, ok := cm.NewValue[e.Value]; !ok {
			t.Errorf("phi incoming value was not remapped through the clone")
		}
	}
}

func TestPredsAndReachable(t *testing.T) {
	fn, blocks, _ := buildDiamond(t)
	preds := Preds(fn)
	if len(preds[blocks["join"]]) != 2 {
		t.Fatalf("join should have 2 predecessors, got %d", len(preds[blocks["join"]]))
	}
	reach := Reachable(blocks["entry"])
	if len(reach) != 4 {
		t.Fatalf("expected all 4 blocks reachable, got %d", len(reach))
	}
}
