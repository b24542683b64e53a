package diag

import (
	"opal/internal/source"
)

type Note struct {
	Span source.Span
	Msg  string
}

// Diagnostic is one reportable finding. This stage is compiler-internal, so
// there is no machine-readable code surface; the message and position are the
// whole contract.
type Diagnostic struct {
	Severity Severity
	Message  string
	Primary  source.Span
	Notes    []Note
}

// WithNote returns a copy of d with an extra note attached.
func (d Diagnostic) WithNote(sp source.Span, msg string) Diagnostic {
	d.Notes = append(d.Notes[:len(d.Notes):len(d.Notes)], Note{Span: sp, Msg: msg})
	return d
}
