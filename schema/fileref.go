package schema

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// FileRef is the value of a FILE column. It either carries inline
// structured metadata or points at externally stored content.
type FileRef struct {
	// Metadata is an inline JSON document. Empty for external references.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	Endpoint string `json:"endpoint,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
	Path     string `json:"path,omitempty"`
}

// IsExternal reports whether the content lives outside the row.
func (f FileRef) IsExternal() bool { return f.Path != "" }

// Clone returns a deep copy.
func (f FileRef) Clone() FileRef {
	f.Metadata = bytes.Clone(f.Metadata)
	return f
}

func (f FileRef) String() string {
	if f.IsExternal() {
		if f.Endpoint != "" {
			return fmt.Sprintf("%s/%s/%s", f.Endpoint, f.Bucket, f.Path)
		}
		return fmt.Sprintf("%s/%s", f.Bucket, f.Path)
	}
	return string(f.Metadata)
}

// ParseFileRef parses the text form of a FILE literal. A JSON object with a
// "path" key is an external reference; any other JSON document is inline
// metadata.
func ParseFileRef(s string) (FileRef, error) {
	data := []byte(s)
	if !json.Valid(data) {
		return FileRef{}, fmt.Errorf("%w: FILE literal is not a JSON document", ErrTypeMismatch)
	}

	var ext struct {
		Endpoint string `json:"endpoint"`
		Bucket   string `json:"bucket"`
		Path     string `json:"path"`
	}
	if err := json.Unmarshal(data, &ext); err == nil && ext.Path != "" {
		return FileRef{Endpoint: ext.Endpoint, Bucket: ext.Bucket, Path: ext.Path}, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return FileRef{}, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	return FileRef{Metadata: buf.Bytes()}, nil
}
