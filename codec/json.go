package codec

import "encoding/json"

// JSON is the encoding/json codec. Output is byte-compatible with GoJSON
// for the catalog types, so either can read the other's data.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSON) Name() string { return "json" }
