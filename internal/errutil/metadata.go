package errutil

import (
	"strings"

	"github.com/nimblerpc/core/hlc"
	"github.com/nimblerpc/core/internal/constants"
)

// PropToMetadata splits raw MQTT user properties into application-visible
// metadata (everything outside the reserved "__" namespace) and the
// fencing token, if one was present.
func PropToMetadata(prop map[string]string) (metadata map[string]string, fencingToken *hlc.HybridLogicalClock, err error) {
	metadata = make(map[string]string, len(prop))
	for key, val := range prop {
		switch {
		case key == constants.FencingToken:
			h, perr := hlc.Parse(constants.FencingToken, val)
			if perr != nil {
				return nil, nil, perr
			}
			fencingToken = &h
		case strings.HasPrefix(key, constants.Reserved):
			// Reserved envelope header; not part of application metadata.
		default:
			metadata[key] = val
		}
	}
	return metadata, fencingToken, nil
}
