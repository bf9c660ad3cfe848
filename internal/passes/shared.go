package passes

import (
	"splitkernel/internal/diag"
	"splitkernel/internal/ir"
)

// SharedLayout is the lowering of K's __shared__ globals into the two
// things every subkernel actually receives: a pointer to S(K), the
// packed record of statically-sized shared tiles, and (at most one)
// dynamic-shared byte pointer sized at launch time (§4.6, §6).
type SharedLayout struct {
	RecordType *ir.StructType
	FieldOf    map[*ir.Global]int
	Dynamic    *ir.Global
}

// buildSharedLayout inspects which of m's shared globals K actually
// uses (via the GlobalAddrInstr materialised for each by constant-
// expression flattening) and packs the statically-sized ones into a
// single record type. A kernel referencing more than one
// dynamic-shared global is a declared fatal error (§9): unlike the
// teacher's assertion-abort for the analogous condition, this is a
// user-triggerable situation, not an invariant violation, so it must
// be reported through the diagnostic channel rather than crash the
// process that is running the pass.
func buildSharedLayout(m *ir.Module, k *ir.Function, rep *diag.Reporter) *SharedLayout {
	used := map[*ir.Global]bool{}
	for _, b := range k.Blocks {
		for _, in := range b.Instrs {
			if ga, ok := in.(*ir.GlobalAddrInstr); ok {
				used[ga.G] = true
			}
		}
	}

	var statics, dynamics []*ir.Global
	for _, g := range m.Globals {
		if !used[g] {
			continue
		}
		switch g.Shared {
		case ir.StaticShared:
			statics = append(statics, g)
		case ir.DynamicShared:
			dynamics = append(dynamics, g)
		}
	}

	if len(dynamics) > 1 {
		rep.Errorf("kernel %q references %d dynamic-shared globals; at most one is permitted per kernel", k.Name, len(dynamics))
		return nil
	}

	sortGlobalsByName(statics)

	fields := make([]ir.Type, len(statics))
	fieldOf := map[*ir.Global]int{}
	for i, g := range statics {
		fields[i] = g.Elem
		fieldOf[g] = i
	}

	var recordType *ir.StructType
	if len(fields) > 0 {
		recordType = &ir.StructType{Name: k.Name + "_shared", Fields: fields}
	}

	var dyn *ir.Global
	if len(dynamics) == 1 {
		dyn = dynamics[0]
	}
	return &SharedLayout{RecordType: recordType, FieldOf: fieldOf, Dynamic: dyn}
}

// sortGlobalsByName orders by name, the stable key §4.6 calls for when
// laying out a struct from a set with no other inherent order.
func sortGlobalsByName(gs []*ir.Global) {
	for i := 1; i < len(gs); i++ {
		for j := i; j > 0 && gs[j].Name() < gs[j-1].Name(); j-- {
			gs[j], gs[j-1] = gs[j-1], gs[j]
		}
	}
}
