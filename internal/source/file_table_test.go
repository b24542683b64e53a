package source_test

import (
	"testing"

	"opal/internal/source"
)

func TestFileTableAdd(t *testing.T) {
	tbl := source.NewFileTable()
	a := tbl.Add("lib/main.sg")
	b := tbl.Add("lib/extra.sg")
	if a == b {
		t.Fatalf("distinct names share id %d", a)
	}
	if got := tbl.Add("lib/main.sg"); got != a {
		t.Fatalf("re-adding name: got %d, want %d", got, a)
	}
	if tbl.Len() != 2 {
		t.Fatalf("len = %d, want 2", tbl.Len())
	}
	if name := tbl.Name(a); name != "lib/main.sg" {
		t.Fatalf("Name(%d) = %q", a, name)
	}
}

func TestFileTableUnknown(t *testing.T) {
	tbl := source.NewFileTable()
	if name := tbl.Name(source.NoFileID); name != "" {
		t.Fatalf("Name(NoFileID) = %q, want empty", name)
	}
	if name := tbl.Name(source.FileID(99)); name != "" {
		t.Fatalf("Name(99) = %q, want empty", name)
	}
}

func TestFileTableFormat(t *testing.T) {
	tbl := source.NewFileTable()
	id := tbl.Add("pkg/shapes.sg")
	got := tbl.Format(source.Span{File: id, Start: 42, End: 50})
	if got != "pkg/shapes.sg:42" {
		t.Fatalf("Format = %q", got)
	}
	if got := tbl.Format(source.Span{}); got != "<unknown>:0" {
		t.Fatalf("Format(zero) = %q", got)
	}
}

func TestSpanCover(t *testing.T) {
	a := source.Span{File: 1, Start: 10, End: 20}
	b := source.Span{File: 1, Start: 5, End: 15}
	got := a.Cover(b)
	if got.Start != 5 || got.End != 20 {
		t.Fatalf("Cover = %v", got)
	}
	other := source.Span{File: 2, Start: 0, End: 100}
	if got := a.Cover(other); got != a {
		t.Fatalf("Cover across files = %v, want unchanged", got)
	}
}
