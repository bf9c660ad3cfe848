// Package diag collects and renders diagnostics produced while loading,
// validating and transforming a kernel module. It mirrors the shape the
// rest of the pass expects: a single Reporter threaded through the
// frontend, validator and pass pipeline, backed by a go/token.FileSet so
// positions print as "file:line:col" even though the source being
// diagnosed is this pass's own textual IR rather than Go source.
package diag

import (
	"encoding/json"
	"fmt"
	"go/token"
	"io"
	"sort"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one reported issue.
type Diagnostic struct {
	Severity Severity
	Pos      token.Pos
	Message  string
}

// Reporter accumulates diagnostics and renders them to w in either "text"
// or "json" format (selected by NewReporter's format argument, matching
// the --diag-format flag exposed by cmd/ksplit).
type Reporter struct {
	w      io.Writer
	format string
	fset   *token.FileSet
	diags  []Diagnostic
	errors int
}

// NewReporter constructs a Reporter writing to w. format is "text" or
// "json"; any other value falls back to "text".
func NewReporter(w io.Writer, format string) *Reporter {
	return &Reporter{w: w, format: format}
}

// SetFileSet attaches the FileSet used to resolve positions to
// file:line:col. It is set once by the frontend after lexing the input.
func (r *Reporter) SetFileSet(fset *token.FileSet) { r.fset = fset }

// Error records a fatal diagnostic at pos. In text format it is rendered
// immediately; in JSON format it is rendered by Flush.
func (r *Reporter) Error(pos token.Pos, msg string) {
	r.record(Diagnostic{Severity: SeverityError, Pos: pos, Message: msg})
}

// Errorf is like Error but with Printf-style formatting and no position
// (used for module-level diagnostics that have no single source location,
// such as a missing helper symbol).
func (r *Reporter) Errorf(format string, args ...any) {
	r.record(Diagnostic{Severity: SeverityError, Pos: token.NoPos, Message: fmt.Sprintf(format, args...)})
}

// ErrorAt is Errorf with an explicit position.
func (r *Reporter) ErrorAt(pos token.Pos, format string, args ...any) {
	r.record(Diagnostic{Severity: SeverityError, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

// Warn records a non-fatal diagnostic (§7, "Recoverable").
func (r *Reporter) Warn(pos token.Pos, format string, args ...any) {
	r.record(Diagnostic{Severity: SeverityWarning, Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func (r *Reporter) record(d Diagnostic) {
	if d.Severity == SeverityError {
		r.errors++
	}
	r.diags = append(r.diags, d)
	if r.format == "json" {
		return // JSON output is rendered once, at Flush.
	}
	fmt.Fprintln(r.w, r.renderText(d))
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (r *Reporter) HasErrors() bool { return r.errors > 0 }

// Count returns the number of diagnostics recorded so far.
func (r *Reporter) Count() int { return len(r.diags) }

// Flush renders any diagnostics buffered for structured output (JSON).
// Text-format diagnostics are already streamed as they arrive, so Flush
// is a no-op for that format.
func (r *Reporter) Flush() error {
	if r.format != "json" {
		return nil
	}
	type jsonDiag struct {
		Severity string `json:"severity"`
		Position string `json:"position,omitempty"`
		Message  string `json:"message"`
	}
	out := make([]jsonDiag, len(r.diags))
	for i, d := range r.diags {
		out[i] = jsonDiag{Severity: d.Severity.String(), Position: r.position(d.Pos), Message: d.Message}
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (r *Reporter) renderText(d Diagnostic) string {
	pos := r.position(d.Pos)
	if pos == "" {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", pos, d.Severity, d.Message)
}

func (r *Reporter) position(pos token.Pos) string {
	if r.fset == nil || pos == token.NoPos {
		return ""
	}
	return r.fset.Position(pos).String()
}

// SortedByPosition returns a copy of the recorded diagnostics ordered by
// source position, useful for deterministic test assertions.
func (r *Reporter) SortedByPosition() []Diagnostic {
	out := append([]Diagnostic{}, r.diags...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pos < out[j].Pos })
	return out
}
