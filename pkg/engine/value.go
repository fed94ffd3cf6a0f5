package engine

import (
	"encoding/json"
	"strconv"

	"github.com/Ramsey-B/clover/pkg/models"
)

// TypedValue translates a decision into the flag's value type. The server and
// the SDK share this so local and remote evaluation agree byte-for-byte.
//
// Boolean flags map the chosen variant key onto true/false; other types look
// up the variant row and parse its raw value. Anything unparseable falls back
// to the raw string, and a disabled decision always yields the caller's
// default.
func TypedValue(snap *models.Snapshot, decision Decision, defaultValue any) any {
	if !decision.Enabled {
		return defaultValue
	}

	if snap.Flag.FlagType == models.FlagTypeBoolean {
		return decision.Variant == "true"
	}

	var raw string
	found := false
	for _, v := range snap.Variants {
		if v.VariantKey == decision.Variant {
			raw = v.Value
			found = true
			break
		}
	}
	if !found {
		return defaultValue
	}

	switch snap.Flag.FlagType {
	case models.FlagTypeNumber:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
		return raw
	case models.FlagTypeJSON:
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			return parsed
		}
		return raw
	default:
		return raw
	}
}
