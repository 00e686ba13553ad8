package models

import (
	"encoding/json"
	"time"
)

// AircraftFields holds the optional, independently refreshable fields of an
// aircraft. A nil pointer means the value is unknown.
type AircraftFields struct {
	Flight      *string  `json:"flight,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	AltBaro     *int     `json:"alt_baro,omitempty"`
	GroundSpeed *float64 `json:"gs,omitempty"`
	Track       *float64 `json:"track,omitempty"`
}

// Overlay copies every known field of other onto f. Unknown fields in other
// leave f untouched.
func (f *AircraftFields) Overlay(other AircraftFields) {
	if other.Flight != nil {
		f.Flight = other.Flight
	}
	if other.Lat != nil {
		f.Lat = other.Lat
	}
	if other.Lon != nil {
		f.Lon = other.Lon
	}
	if other.AltBaro != nil {
		f.AltBaro = other.AltBaro
	}
	if other.GroundSpeed != nil {
		f.GroundSpeed = other.GroundSpeed
	}
	if other.Track != nil {
		f.Track = other.Track
	}
}

// Empty reports whether no optional field is known
func (f AircraftFields) Empty() bool {
	return f == AircraftFields{}
}

// PartialRecord is the sparse result of decoding one frame. Hex is always set;
// a record with only Hex is a presence heartbeat.
type PartialRecord struct {
	Hex string
	AircraftFields
}

// Aircraft is the merged per-aircraft record kept by a store
type Aircraft struct {
	Hex string `json:"hex"`
	AircraftFields

	// Registry enrichment, filled on the merged snapshot only
	Registration *string `json:"r,omitempty"`
	TypeCode     *string `json:"t,omitempty"`
	Operator     *string `json:"ownOp,omitempty"`

	LastSeen time.Time `json:"-"`
}

// Merge overlays another record for the same aircraft. Known fields of other win
// and its LastSeen replaces ours.
func (a *Aircraft) Merge(other Aircraft) {
	a.AircraftFields.Overlay(other.AircraftFields)
	if other.Registration != nil {
		a.Registration = other.Registration
	}
	if other.TypeCode != nil {
		a.TypeCode = other.TypeCode
	}
	if other.Operator != nil {
		a.Operator = other.Operator
	}
	a.LastSeen = other.LastSeen
}

// MarshalJSON adds the last-seen time as a unix millisecond "timestamp"
func (a Aircraft) MarshalJSON() ([]byte, error) {
	type plain Aircraft
	return json.Marshal(struct {
		plain
		Timestamp int64 `json:"timestamp"`
	}{
		plain:     plain(a),
		Timestamp: a.LastSeen.UnixMilli(),
	})
}

// AircraftInfo is reference data about an airframe from the aircraft database.
// Fields correspond to columns of the aircraft-database CSV files.
type AircraftInfo struct {
	ICAO24           string // Primary key - 6 hex digit ICAO address
	Registration     string // Aircraft registration (e.g., N12345)
	TypeCode         string // ICAO type designator
	ManufacturerName string // Manufacturer name
	Model            string // Aircraft model
	Operator         string // Operator name
	OperatorCallsign string // Operator callsign
	Owner            string // Owner name
}

// Annotate copies the non-empty registry fields onto an aircraft record
func (i *AircraftInfo) Annotate(a *Aircraft) {
	if i == nil {
		return
	}
	if i.Registration != "" {
		a.Registration = StringPtr(i.Registration)
	}
	if i.TypeCode != "" {
		a.TypeCode = StringPtr(i.TypeCode)
	}
	switch {
	case i.Operator != "":
		a.Operator = StringPtr(i.Operator)
	case i.Owner != "":
		a.Operator = StringPtr(i.Owner)
	}
}

func StringPtr(s string) *string    { return &s }
func Float64Ptr(f float64) *float64 { return &f }
func IntPtr(i int) *int             { return &i }
