package util

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Debug logs value as JSON under marker. Byte slices render as
// base64.
func Debug(marker string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Error().Err(err).Str("marker", marker).Msg("Could not render debug value")
		return
	}
	log.Debug().Str("marker", marker).RawJSON("value", data).Msg("Debug")
}
