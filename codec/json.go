package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Index files written with either JSON codec are byte-compatible on the wire;
// the choice only affects encode/decode speed.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured. Large datasets carry a
// per-record entry for every sample in index.json, so decode speed matters.
var Default Codec = GoJSON{}
