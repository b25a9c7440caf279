package client

import (
	"encoding/json"

	"github.com/charlesng35/fixhub/internal/realtime"
)

// decodeRecord extracts the typed record of a feed event. In-process events carry the
// value itself; events relayed as JSON carry a map and are decoded into T.
func decodeRecord[T any](event realtime.ChangeEvent) (T, bool) {
	var zero T
	switch record := event.Record.(type) {
	case T:
		return record, true
	case *T:
		if record == nil {
			return zero, false
		}
		return *record, true
	case nil:
		return zero, false
	}

	data, err := json.Marshal(event.Record)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}
