package ir

import "fmt"

// ValueID identifies an SSA value uniquely within a Function's arena. A
// clone draws fresh IDs from its own function's allocator; mapping a
// cloned value back to its origin goes through CloneMap, and the
// preserved-data layout keys on Value identity rather than ValueID.
type ValueID int

// BlockID identifies a BasicBlock uniquely within a Function.
type BlockID int

// Value is anything that can appear as an operand: instructions, block
// parameters, function parameters, constants and globals.
type Value interface {
	ID() ValueID
	Type() Type
	Name() string
}

// valueBase is embedded by every concrete Value implementation.
type valueBase struct {
	id   ValueID
	typ  Type
	name string
}

func (v *valueBase) ID() ValueID  { return v.id }
func (v *valueBase) Type() Type   { return v.typ }
func (v *valueBase) Name() string { return v.name }

func (v *valueBase) setType(t Type) { v.typ = t }
func (v *valueBase) setID(id ValueID) { v.id = id }

// SetName overrides v's name. The textual-IR parser uses it to assign the
// declared parameter names, which differ from the default "argN" names
// NewFunction assigns positionally.
func (v *valueBase) SetName(n string) { v.name = n }

type typeSetter interface{ setType(Type) }
type idSetter interface{ setID(ValueID) }

// SetType overrides v's static type. The textual-IR parser uses it to
// backfill the explicit result types Dump prints for instructions whose
// type cannot be inferred from their operands alone at parse time
// (calls, phis, loads, binary ops, GEPs) — every instruction kind
// satisfies this through the embedded valueBase, so the parser does not
// need a type switch of its own.
func SetType(v Value, t Type) {
	if ts, ok := v.(typeSetter); ok {
		ts.setType(t)
	}
}

// AssignID hands v a fresh id drawn from fn's allocator. Passes that
// build an instruction directly as a struct literal (rather than
// through a Builder, typically because the insertion point is a Prepend
// rather than an Append) use this to keep every instruction's id unique
// within its owning function.
func AssignID(v Value, fn *Function) {
	if is, ok := v.(idSetter); ok {
		is.setID(fn.allocValueID())
	}
}

// Param is a function parameter. Parameters never take a preserved-data
// field (§4.6): every synthesised subkernel keeps K's full parameter
// list, so the live-across analysis treats them as leaves available in
// every subkernel.
type Param struct {
	valueBase
	Index int
	Fn    *Function
}

// Const is a compile-time constant value (integer, float or null pointer).
type Const struct {
	valueBase
	IntVal   int64
	FloatVal float64
	IsNull   bool
}

// ConstInt builds an integer constant of the given type.
func ConstInt(t Type, v int64) *Const {
	return &Const{valueBase: valueBase{typ: t, name: fmt.Sprintf("%d", v)}, IntVal: v}
}

// ConstFloat builds a floating point constant of the given type.
func ConstFloat(t Type, v float64) *Const {
	return &Const{valueBase: valueBase{typ: t, name: fmt.Sprintf("%g", v)}, FloatVal: v}
}

// ConstNull builds a null pointer constant.
func ConstNull(t Type) *Const {
	return &Const{valueBase: valueBase{typ: t, name: "null"}, IsNull: true}
}

// Undef is an explicit "don't care" value, emitted for definitions whose
// owning block is pruned out of a subkernel clone (§4.7, Block pruning).
type Undef struct {
	valueBase
}

// NewUndef builds an Undef of the given type.
func NewUndef(t Type) *Undef {
	return &Undef{valueBase: valueBase{typ: t, name: "undef"}}
}

// SharedKind classifies how a global variable is attributed for the
// shared-memory lowering (§4.6, §6).
type SharedKind int

const (
	NotShared SharedKind = iota
	StaticShared
	DynamicShared
)

// Global is a module-level variable, usable directly as a pointer-typed
// operand. Constant-expression flattening (§4.10) finds every direct use
// of a Global embedded as an operand and materialises a GlobalAddrInstr
// for it at the using function's entry; the shared-vars lowering later
// erases the Global entirely once every remaining use is a field address
// into S(K) or a cast of the dynamic-shared parameter (§8, TP 7).
type Global struct {
	valueBase
	Shared SharedKind
	Elem   Type // element type addressed by this global's pointer type
}
