package models

// Beast framing constants
const (
	// BeastMarker opens every frame in the stream (0x1A, ASCII SUB)
	BeastMarker byte = 0x1A

	// Frame discriminators carrying decodable content
	BeastTypeAcquisition      byte = 0x8C // DF11 acquisition squitter, short family
	BeastTypeExtendedSquitter byte = 0x8D // DF17/18 extended squitter, long family

	// BeastHeaderLen is marker + discriminator
	BeastHeaderLen = 2

	// Frame body lengths (everything after the header). The format has no length
	// field, so the discriminator alone selects one of the two sizes.
	BeastBodyLenShort = 13
	BeastBodyLenLong  = 21

	// Total frame lengths on the wire
	BeastFrameLenShort = BeastHeaderLen + BeastBodyLenShort // 15 bytes
	BeastFrameLenLong  = BeastHeaderLen + BeastBodyLenLong  // 23 bytes

	// ICAOLen is the width of the 24-bit aircraft address at the start of a body
	ICAOLen = 3

	// MELen is the extended squitter payload that follows the address
	MELen = 7
)

// BeastBodyLen returns the body length selected by a discriminator
func BeastBodyLen(typeByte byte) int {
	if IsLongFrame(typeByte) {
		return BeastBodyLenLong
	}
	return BeastBodyLenShort
}

// BeastFrameLen returns the full frame length (header included) for a discriminator
func BeastFrameLen(typeByte byte) int {
	return BeastHeaderLen + BeastBodyLen(typeByte)
}

// IsLongFrame reports whether the discriminator belongs to the long family
func IsLongFrame(typeByte byte) bool {
	return typeByte == BeastTypeExtendedSquitter
}

// IsDecodable reports whether frames with this discriminator can yield a record
func IsDecodable(typeByte byte) bool {
	return typeByte == BeastTypeExtendedSquitter || typeByte == BeastTypeAcquisition
}
