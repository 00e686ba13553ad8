package models

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// RawFrame is one frame cut out of the Beast stream. Body excludes the marker
// and discriminator bytes.
type RawFrame struct {
	Type byte
	Body []byte
}

// Hex returns the frame body as a hex string
func (f RawFrame) Hex() string {
	return hex.EncodeToString(f.Body)
}

// Bytes re-encodes the frame as it appeared on the wire (unescaped)
func (f RawFrame) Bytes() []byte {
	out := make([]byte, 0, BeastHeaderLen+len(f.Body))
	out = append(out, BeastMarker, f.Type)
	return append(out, f.Body...)
}

// ExtractICAO returns the aircraft address at the start of a frame body as six
// uppercase hex digits
func ExtractICAO(body []byte) (string, error) {
	if len(body) < ICAOLen {
		return "", fmt.Errorf("frame body too short for icao: %d bytes", len(body))
	}
	return strings.ToUpper(hex.EncodeToString(body[:ICAOLen])), nil
}
