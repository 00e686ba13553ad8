package beast

import (
	"math"
	"strings"
)

// Extended squitter type code ranges
const (
	tcIdentMin       = 1
	tcIdentMax       = 4
	tcAirbornePosMin = 9
	tcAirbornePosMax = 18
	tcAirborneVel    = 19
	tcGNSSPosMin     = 20
	tcGNSSPosMax     = 22
)

// callsignCharset maps 6-bit ICAO characters; '#' marks unassigned codes
const callsignCharset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// DecodeCallsign decodes the eight 6-bit characters of an identification
// message. me is the 7-byte extended squitter payload.
func DecodeCallsign(me []byte) (string, bool) {
	if len(me) < 7 {
		return "", false
	}

	var sb strings.Builder
	sb.Grow(8)
	for _, word := range [2]uint32{
		uint32(me[1])<<16 | uint32(me[2])<<8 | uint32(me[3]),
		uint32(me[4])<<16 | uint32(me[5])<<8 | uint32(me[6]),
	} {
		for shift := 18; shift >= 0; shift -= 6 {
			c := callsignCharset[word>>uint(shift)&0x3F]
			if c == '#' {
				return "", false
			}
			sb.WriteByte(c)
		}
	}

	callsign := strings.TrimRight(sb.String(), " ")
	if callsign == "" {
		return "", false
	}
	return callsign, true
}

// DecodeAltitude decodes the 12-bit barometric altitude of an airborne position
// message in feet. Only 25 ft (Q-bit) encoding is supported.
func DecodeAltitude(me []byte) (int, bool) {
	if len(me) < 3 {
		return 0, false
	}

	ac12 := int(me[1])<<4 | int(me[2])>>4
	if ac12 == 0 {
		return 0, false
	}
	if ac12&0x10 == 0 {
		// Gillham coded
		return 0, false
	}

	n := (ac12&0xFE0)>>1 | ac12&0x0F
	return n*25 - 1000, true
}

// DecodeVelocity decodes ground speed (knots) and track (degrees) from an
// airborne velocity message. Only ground-referenced subtypes 1 and 2 carry a
// track; airspeed subtypes report nothing.
func DecodeVelocity(me []byte) (float64, float64, bool) {
	if len(me) < 5 {
		return 0, 0, false
	}

	subtype := me[0] & 0x07
	if subtype != 1 && subtype != 2 {
		return 0, 0, false
	}

	ewRaw := int(me[1]&0x03)<<8 | int(me[2])
	nsRaw := int(me[3]&0x7F)<<3 | int(me[4])>>5
	if ewRaw == 0 || nsRaw == 0 {
		return 0, 0, false
	}

	ew := float64(ewRaw - 1)
	if me[1]&0x04 != 0 {
		ew = -ew
	}
	ns := float64(nsRaw - 1)
	if me[3]&0x80 != 0 {
		ns = -ns
	}
	if subtype == 2 {
		ew *= 4
		ns *= 4
	}

	speed := math.Hypot(ew, ns)
	track := math.Atan2(ew, ns) * 180 / math.Pi
	if track < 0 {
		track += 360
	}
	return speed, track, true
}
