// Package codec encodes catalog metadata persisted in the Schemas group.
//
// Changing the codec of an existing database is a breaking change: table
// definitions written by one codec are decoded by the same codec on open.
package codec

// Codec encodes and decodes metadata values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}
