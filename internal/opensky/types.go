package opensky

import "encoding/json"

// StatesResponse is the envelope of /states/all. Each state is a 17
// element heterogeneous array; decoding of the elements is left to the
// statevector package.
type StatesResponse struct {
	Time   int64             `json:"time"`
	States []json.RawMessage `json:"states"`
}
