package beast

import (
	"encoding/hex"
	"testing"
	"time"

	"beast_bridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// squitter turns a 112-bit Mode S message (hex) into a long frame: the body
// starts at the address, dropping the DF/CA byte
func squitter(t *testing.T, msgHex string) models.RawFrame {
	t.Helper()
	msg, err := hex.DecodeString(msgHex)
	require.NoError(t, err)
	body := make([]byte, models.BeastBodyLenLong)
	copy(body, msg[1:])
	return models.RawFrame{Type: models.BeastTypeExtendedSquitter, Body: body}
}

func TestDecoder_Acquisition(t *testing.T) {
	d := NewDecoder()
	body := make([]byte, models.BeastBodyLenShort)
	copy(body, []byte{0xA1, 0x23, 0x45})

	rec, ok, err := d.Decode(models.RawFrame{Type: models.BeastTypeAcquisition, Body: body})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A12345", rec.Hex)
	assert.True(t, rec.Empty())
}

func TestDecoder_Identification(t *testing.T) {
	d := NewDecoder()
	rec, ok, err := d.Decode(squitter(t, "8D4840D6202CC371C32CE0576098"))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "4840D6", rec.Hex)
	require.NotNil(t, rec.Flight)
	assert.Equal(t, "KLM1023", *rec.Flight)
	assert.Nil(t, rec.Lat)
}

func TestDecoder_Velocity(t *testing.T) {
	d := NewDecoder()
	rec, ok, err := d.Decode(squitter(t, "8D485020994409940838175B284F"))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "485020", rec.Hex)
	require.NotNil(t, rec.GroundSpeed)
	require.NotNil(t, rec.Track)
	assert.InDelta(t, 159.2, *rec.GroundSpeed, 0.1)
	assert.InDelta(t, 182.88, *rec.Track, 0.1)
}

func TestDecoder_AirbornePosition(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewDecoder(WithClock(func() time.Time { return now }))

	odd, ok, err := d.Decode(squitter(t, "8D40621D58C386435CC412692AD6"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, odd.AltBaro)
	assert.Equal(t, 38000, *odd.AltBaro)
	assert.Nil(t, odd.Lat, "one parity alone cannot be resolved")

	now = now.Add(time.Second)
	even, ok, err := d.Decode(squitter(t, "8D40621D58C382D690C8AC2863A7"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, even.Lat)
	require.NotNil(t, even.Lon)
	assert.InDelta(t, 52.2572, *even.Lat, 0.001)
	assert.InDelta(t, 3.9194, *even.Lon, 0.001)
}

func TestDecoder_StalePairNotResolved(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewDecoder(WithClock(func() time.Time { return now }))

	_, _, err := d.Decode(squitter(t, "8D40621D58C386435CC412692AD6"))
	require.NoError(t, err)

	now = now.Add(CPRMaxPairAge + time.Second)
	rec, ok, err := d.Decode(squitter(t, "8D40621D58C382D690C8AC2863A7"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, rec.Lat)

	d.Forget(now.Add(CPRMaxPairAge + time.Second))
	assert.Equal(t, 0, d.cpr.Len())
}

func TestDecoder_IdentityOnly(t *testing.T) {
	d := NewDecoder()

	tests := []struct {
		name string
		tc   byte
	}{
		{name: "type code zero", tc: 0},
		{name: "surface position", tc: 6},
		{name: "reserved", tc: 23},
		{name: "operational status", tc: 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := make([]byte, models.BeastBodyLenLong)
			copy(body, []byte{0xB9, 0x87, 0x65, tt.tc << 3, 0xFF, 0xFF})
			rec, ok, err := d.Decode(models.RawFrame{Type: models.BeastTypeExtendedSquitter, Body: body})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "B98765", rec.Hex)
			assert.True(t, rec.Empty())
		})
	}
}

func TestDecoder_NonDecodableTypes(t *testing.T) {
	d := NewDecoder()
	for _, typeByte := range []byte{0x31, 0x32, 0x33, 0x00} {
		_, ok, err := d.Decode(models.RawFrame{Type: typeByte, Body: make([]byte, 13)})
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestDecoder_ShortFrame(t *testing.T) {
	d := NewDecoder()

	_, ok, err := d.Decode(models.RawFrame{Type: models.BeastTypeExtendedSquitter, Body: []byte{0x01, 0x02, 0x03}})
	assert.ErrorIs(t, err, ErrShortFrame)
	assert.False(t, ok)

	_, _, err = d.Decode(models.RawFrame{Type: models.BeastTypeAcquisition, Body: []byte{0x01}})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecoder_PluggableExtractors(t *testing.T) {
	d := NewDecoder(WithExtractors(Extractors{
		Callsign: func([]byte) (string, bool) { return "", false },
	}))

	rec, ok, err := d.Decode(squitter(t, "8D4840D6202CC371C32CE0576098"))
	require.NoError(t, err)
	require.True(t, ok, "unresolved fields still yield a heartbeat")
	assert.Equal(t, "4840D6", rec.Hex)
	assert.Nil(t, rec.Flight)

	// No velocity extractor configured.
	rec, ok, err = d.Decode(squitter(t, "8D485020994409940838175B284F"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, rec.GroundSpeed)
}

func TestDecodeAltitude(t *testing.T) {
	tests := []struct {
		name   string
		me     []byte
		want   int
		wantOK bool
	}{
		{name: "q bit set", me: []byte{0x58, 0xC3, 0x82}, want: 38000, wantOK: true},
		{name: "unavailable", me: []byte{0x58, 0x00, 0x00}, wantOK: false},
		{name: "gillham", me: []byte{0x58, 0xC2, 0x82}, wantOK: false},
		{name: "short", me: []byte{0x58}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeAltitude(tt.me)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCPRNL(t *testing.T) {
	assert.Equal(t, 59, cprNL(0))
	assert.Equal(t, 36, cprNL(52.2572))
	assert.Equal(t, 36, cprNL(-52.2572))
	assert.Equal(t, 2, cprNL(87))
	assert.Equal(t, 1, cprNL(89))
}
