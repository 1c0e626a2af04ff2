package httpserver

import (
	"encoding/json"
	"io"
)

// decodeJSON decodes a JSON request body into the destination struct.
// The reader is closed after decoding. Unknown fields pass through: buyer
// SDKs send superset payloads and the risk schema tolerates them.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	return json.NewDecoder(r).Decode(dest)
}
