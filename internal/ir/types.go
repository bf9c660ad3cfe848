package ir

import (
	"fmt"
	"strings"
)

// Type is implemented by every SSA value type in the IR. Types are
// value-comparable: two types describing the same shape compare Equal even
// if they are distinct Go objects, which matters once cloning starts
// producing fresh type instances for struct layouts.
type Type interface {
	String() string
	Equal(Type) bool
	isType()
}

// VoidType is the type of instructions that produce no value (stores,
// terminators with no SSA result).
type VoidType struct{}

func (VoidType) String() string   { return "void" }
func (VoidType) Equal(t Type) bool { _, ok := t.(VoidType); return ok }
func (VoidType) isType()          {}

// IntType is a fixed-width, optionally signed integer type. Width is in
// bits; i1 is used for booleans (branch conditions, comparison results).
type IntType struct {
	Width  int
	Signed bool
}

func (t IntType) String() string {
	prefix := "i"
	if t.Signed {
		prefix = "si"
	}
	return fmt.Sprintf("%s%d", prefix, t.Width)
}

func (t IntType) Equal(other Type) bool {
	o, ok := other.(IntType)
	return ok && o.Width == t.Width && o.Signed == t.Signed
}

func (IntType) isType() {}

// FloatType is an IEEE floating point type (32 or 64 bits).
type FloatType struct{ Width int }

func (t FloatType) String() string  { return fmt.Sprintf("f%d", t.Width) }
func (t FloatType) Equal(o Type) bool {
	ot, ok := o.(FloatType)
	return ok && ot.Width == t.Width
}
func (FloatType) isType() {}

// PointerType is a pointer to Elem. Elem may be nil for an untyped byte
// pointer, used for the dynamic-shared-memory parameter (§4.6).
type PointerType struct{ Elem Type }

func (t PointerType) String() string {
	if t.Elem == nil {
		return "ptr"
	}
	return "ptr<" + t.Elem.String() + ">"
}

func (t PointerType) Equal(o Type) bool {
	ot, ok := o.(PointerType)
	if !ok {
		return false
	}
	if t.Elem == nil || ot.Elem == nil {
		return t.Elem == nil && ot.Elem == nil
	}
	return t.Elem.Equal(ot.Elem)
}
func (PointerType) isType() {}

// ArrayType is a fixed-length array of Elem, used for static-shared tiles
// and alloca element types.
type ArrayType struct {
	Elem  Type
	Count int
}

func (t ArrayType) String() string { return fmt.Sprintf("[%d x %s]", t.Count, t.Elem.String()) }
func (t ArrayType) Equal(o Type) bool {
	ot, ok := o.(ArrayType)
	return ok && ot.Count == t.Count && ot.Elem.Equal(t.Elem)
}
func (ArrayType) isType() {}

// StructType is a named aggregate with an ordered field list. The
// preserved-data record R(K) and the shared-vars record S(K) are both
// StructTypes whose field order is meaningful (§4.6): field i always
// denotes the same value across every subkernel of a given K.
type StructType struct {
	Name   string
	Fields []Type
}

// String returns a reference to the struct type by name. Dump emits the
// full field list once, as a top-level "type" declaration, precisely so
// that every other occurrence of a StructType in the textual IR (a
// param, a global, an alloca's element type) can stay a short reference
// instead of repeating the field list inline.
func (t *StructType) String() string { return "%" + t.Name }

// Definition renders the full "name { fields }" form used by the one
// top-level declaration site.
func (t *StructType) Definition() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s { %s }", t.Name, strings.Join(parts, ", "))
}

func (t *StructType) Equal(o Type) bool {
	ot, ok := o.(*StructType)
	if !ok || len(ot.Fields) != len(t.Fields) {
		return false
	}
	for i, f := range t.Fields {
		if !f.Equal(ot.Fields[i]) {
			return false
		}
	}
	return true
}
func (*StructType) isType() {}

// Dim3Type is the type of a grid/block dim triple (x, y, z), each an i32.
// The dim-source substitution pass (§4.1) threads four pointer-to-dim3
// parameters into every kernel.
var Dim3Type = &StructType{Name: "dim3", Fields: []Type{I32, I32, I32}}

// Common scalar types used throughout the pass.
var (
	I1  = IntType{Width: 1}
	I32 = IntType{Width: 32}
	I64 = IntType{Width: 64}
	F32 = FloatType{Width: 32}
	F64 = FloatType{Width: 64}

	VoidPtr = PointerType{Elem: nil}
)

// PairType is the ⟨from_bb_id, next_sk_id⟩ trampoline-state type returned
// by every synthesised subkernel (§3, Subkernel return value).
var PairType = &StructType{Name: "sk_pair", Fields: []Type{I32, I32}}
