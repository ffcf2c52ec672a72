package worker

import (
	"encoding/json"
	"unicode/utf8"
)

const TruncatedMarker = "…[truncated]"

// truncate caps the JSON encoding of payload at limit bytes. An oversized
// payload is replaced by its cut encoding followed by TruncatedMarker.
func truncate(payload any, limit int) (any, bool) {
	if payload == nil || limit <= 0 {
		return payload, false
	}

	encoded, err := json.Marshal(payload)
	if err != nil || len(encoded) <= limit {
		return payload, false
	}

	cut := limit - len(TruncatedMarker)
	if cut < 0 {
		cut = 0
	}

	for cut > 0 && !utf8.RuneStart(encoded[cut]) {
		cut--
	}

	return string(encoded[:cut]) + TruncatedMarker, true
}
