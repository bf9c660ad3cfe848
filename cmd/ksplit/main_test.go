package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"splitkernel/internal/intrinsics"
	"splitkernel/internal/ir"
)

// buildFixture constructs a minimal, fully valid module: every helper
// symbol intrinsics.RequiredHelpers names, plus a barrier-free kernel
// entry with one user parameter, small enough to run end to end through
// every pass without exercising subkernel splitting itself.
func buildFixture() *ir.Module {
	m := &ir.Module{Name: "fixture"}
	for _, name := range intrinsics.RequiredHelpers() {
		fn := ir.NewFunction(name, nil, ir.VoidType{})
		b := fn.NewBlock("entry")
		ir.NewBuilder(fn, b).Ret()
		m.Funcs = append(m.Funcs, fn)
	}

	k := ir.NewFunction("saxpy", []ir.Type{ir.PointerType{Elem: ir.F32}}, ir.VoidType{})
	k.KernelEntry = true
	entry := k.NewBlock("entry")
	b := ir.NewBuilder(k, entry)
	b.Store(k.Params[0], ir.ConstFloat(ir.F32, 1))
	b.Ret()
	m.Funcs = append(m.Funcs, k)
	return m
}

func writeFixture(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	ir.Dump(buildFixture(), &buf)
	path := filepath.Join(t.TempDir(), "fixture.sk")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestRunDumpRoundTrip(t *testing.T) {
	src := writeFixture(t)
	out := filepath.Join(t.TempDir(), "out.sk")
	if err := run([]string{"dump", "-out", out, src}); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read dump output: %v", err)
	}
	if !strings.Contains(string(got), "kernel-entry func saxpy(") {
		t.Fatalf("expected dumped output to retain the kernel entry, got:\n%s", got)
	}
}

func TestRunLintPassesWellFormedFixture(t *testing.T) {
	src := writeFixture(t)
	if err := run([]string{"lint", src}); err != nil {
		t.Fatalf("expected lint to pass on a well-formed fixture, got %v", err)
	}
}

func TestRunLintRejectsMissingHelpers(t *testing.T) {
	m := &ir.Module{Name: "bad"}
	k := ir.NewFunction("lonely", nil, ir.VoidType{})
	k.KernelEntry = true
	b := k.NewBlock("entry")
	ir.NewBuilder(k, b).Ret()
	m.Funcs = append(m.Funcs, k)

	var dumped bytes.Buffer
	ir.Dump(m, &dumped)
	src := filepath.Join(t.TempDir(), "bad.sk")
	if err := os.WriteFile(src, dumped.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if err := run([]string{"lint", src}); err == nil {
		t.Fatalf("expected lint to reject a module missing required helpers")
	}
}

func TestRunSplitProducesDriverAndOuterVariants(t *testing.T) {
	src := writeFixture(t)
	out := filepath.Join(t.TempDir(), "out.sk")
	if err := run([]string{"split", "-out", out, src}); err != nil {
		t.Fatalf("split failed: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read split output: %v", err)
	}
	text := string(got)
	for _, want := range []string{"func saxpy(", "func saxpy.driver(", "func saxpy.self_contained("} {
		if !strings.Contains(text, want) {
			t.Errorf("expected split output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRunSplitRejectsUnknownOuterVariant(t *testing.T) {
	src := writeFixture(t)
	if err := run([]string{"split", "-outer-variant", "bogus", src}); err == nil {
		t.Fatalf("expected an unknown -outer-variant value to be rejected")
	}
}
