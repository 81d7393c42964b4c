package core

import "encoding/json"

// encodeJSON is the canonical in-process encoding for DAG block
// payloads. JSON keeps block contents human-inspectable for
// debugging; the wire protocol (see wire.go) uses CBOR instead.
func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
