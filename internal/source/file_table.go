package source

import (
	"fmt"

	"fortio.org/safecast"
)

// FileTable maps FileIDs to file names. Artifacts carry only names, not
// contents, so this is the whole source surface the middle end needs.
// IDs are 1-based; NoFileID is never issued.
type FileTable struct {
	names []string
	index map[string]FileID
}

func NewFileTable() *FileTable {
	return &FileTable{
		index: make(map[string]FileID),
	}
}

// Add registers name and returns its id. Adding the same name twice returns
// the original id.
func (t *FileTable) Add(name string) FileID {
	if t == nil {
		return NoFileID
	}
	if id, ok := t.index[name]; ok {
		return id
	}
	t.names = append(t.names, name)
	n, err := safecast.Conv[uint32](len(t.names))
	if err != nil {
		panic(fmt.Errorf("source: file table overflow: %w", err))
	}
	id := FileID(n)
	t.index[name] = id
	return id
}

// Name returns the file name for id, or "" if id is unknown.
func (t *FileTable) Name(id FileID) string {
	if t == nil || !id.IsValid() || int(id) > len(t.names) {
		return ""
	}
	return t.names[id-1]
}

func (t *FileTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Names returns the table in id order. The returned slice is read-only.
func (t *FileTable) Names() []string {
	if t == nil {
		return nil
	}
	return t.names
}

// Format renders a span as name:start for diagnostics.
func (t *FileTable) Format(s Span) string {
	name := t.Name(s.File)
	if name == "" {
		name = "<unknown>"
	}
	return fmt.Sprintf("%s:%d", name, s.Start)
}
