package beast

import (
	"errors"
	"fmt"
	"time"

	"beast_bridge/internal/models"
)

// ErrShortFrame is returned for a decodable frame whose body cannot hold the
// fields its discriminator promises
var ErrShortFrame = errors.New("beast: frame body too short")

// Extractors are the pluggable field decoders used for extended squitters. Any
// of them may be nil or report false; the record then carries only what was
// resolved.
type Extractors struct {
	Callsign func(me []byte) (string, bool)
	Altitude func(me []byte) (int, bool)
	Position func(hex string, me []byte, at time.Time) (lat, lon float64, ok bool)
	Velocity func(me []byte) (groundSpeed, track float64, ok bool)
}

// Decoder turns raw frames into partial aircraft records
type Decoder struct {
	extract Extractors
	cpr     *CPRResolver
	now     func() time.Time
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithExtractors replaces the default field decoders
func WithExtractors(e Extractors) DecoderOption {
	return func(d *Decoder) { d.extract = e }
}

// WithClock sets the time source used for CPR pairing
func WithClock(now func() time.Time) DecoderOption {
	return func(d *Decoder) { d.now = now }
}

// NewDecoder creates a decoder with the built-in callsign, altitude, CPR
// position and velocity decoders
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		cpr: NewCPRResolver(CPRMaxPairAge),
		now: time.Now,
	}
	d.extract = Extractors{
		Callsign: DecodeCallsign,
		Altitude: DecodeAltitude,
		Position: d.cpr.Resolve,
		Velocity: DecodeVelocity,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode classifies a frame by discriminator. ok is false for frames that carry
// no aircraft content; an identity-only record is still ok.
func (d *Decoder) Decode(f models.RawFrame) (models.PartialRecord, bool, error) {
	if !models.IsDecodable(f.Type) {
		return models.PartialRecord{}, false, nil
	}

	switch f.Type {
	case models.BeastTypeAcquisition:
		hex, err := models.ExtractICAO(f.Body)
		if err != nil {
			return models.PartialRecord{}, false, fmt.Errorf("%w: %v", ErrShortFrame, err)
		}
		return models.PartialRecord{Hex: hex}, true, nil

	case models.BeastTypeExtendedSquitter:
		return d.decodeExtendedSquitter(f.Body)

	default:
		return models.PartialRecord{}, false, nil
	}
}

// Forget drops stale per-aircraft decoder state
func (d *Decoder) Forget(now time.Time) {
	d.cpr.Forget(now)
}

func (d *Decoder) decodeExtendedSquitter(body []byte) (models.PartialRecord, bool, error) {
	if len(body) < models.ICAOLen+models.MELen {
		return models.PartialRecord{}, false, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(body))
	}

	hex, err := models.ExtractICAO(body)
	if err != nil {
		return models.PartialRecord{}, false, err
	}
	rec := models.PartialRecord{Hex: hex}

	me := body[models.ICAOLen : models.ICAOLen+models.MELen]
	tc := int(me[0] >> 3)

	switch {
	case tc >= tcIdentMin && tc <= tcIdentMax:
		if d.extract.Callsign != nil {
			if callsign, ok := d.extract.Callsign(me); ok {
				rec.Flight = models.StringPtr(callsign)
			}
		}

	case tc == tcAirborneVel:
		if d.extract.Velocity != nil {
			if gs, track, ok := d.extract.Velocity(me); ok {
				rec.GroundSpeed = models.Float64Ptr(gs)
				rec.Track = models.Float64Ptr(track)
			}
		}

	case tc >= tcAirbornePosMin && tc <= tcAirbornePosMax,
		tc >= tcGNSSPosMin && tc <= tcGNSSPosMax:
		// TC 20-22 carry GNSS height, not barometric altitude.
		if tc <= tcAirbornePosMax && d.extract.Altitude != nil {
			if alt, ok := d.extract.Altitude(me); ok {
				rec.AltBaro = models.IntPtr(alt)
			}
		}
		if d.extract.Position != nil {
			if lat, lon, ok := d.extract.Position(hex, me, d.now()); ok {
				rec.Lat = models.Float64Ptr(lat)
				rec.Lon = models.Float64Ptr(lon)
			}
		}
	}

	return rec, true, nil
}
