package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec: the portable, lowest-dependency
// option. Custom encodings (protobuf, msgpack) can implement Codec and be
// set on the manifest/archive writers where supported.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured. Changing it only
// affects newly written manifests and archives: persisted files are
// self-describing and are opened by selecting their recorded codec.
var Default Codec = GoJSON{}
