package beast

import (
	"math"
	"sync"
	"time"
)

const (
	cprScale = 131072.0 // 2^17
	cprNZ    = 15.0

	// CPRMaxPairAge is how far apart an even/odd pair may be received
	CPRMaxPairAge = 10 * time.Second
)

type cprFrame struct {
	lat, lon int
	at       time.Time
}

type cprPair struct {
	even, odd cprFrame
}

// CPRResolver performs global CPR decoding from even/odd airborne position
// pairs. It keeps the latest frame of each parity per aircraft.
type CPRResolver struct {
	mu      sync.Mutex
	maxAge  time.Duration
	entries map[string]*cprPair
}

func NewCPRResolver(maxAge time.Duration) *CPRResolver {
	if maxAge <= 0 {
		maxAge = CPRMaxPairAge
	}
	return &CPRResolver{
		maxAge:  maxAge,
		entries: make(map[string]*cprPair),
	}
}

// Resolve records the CPR frame carried by me and returns a position once a
// recent frame of the other parity is known for the same aircraft.
func (r *CPRResolver) Resolve(hex string, me []byte, at time.Time) (float64, float64, bool) {
	if len(me) < 7 {
		return 0, 0, false
	}

	odd := me[2]&0x04 != 0
	frame := cprFrame{
		lat: int(me[2]&0x03)<<15 | int(me[3])<<7 | int(me[4])>>1,
		lon: int(me[4]&0x01)<<16 | int(me[5])<<8 | int(me[6]),
		at:  at,
	}

	r.mu.Lock()
	pair, ok := r.entries[hex]
	if !ok {
		pair = &cprPair{}
		r.entries[hex] = pair
	}
	if odd {
		pair.odd = frame
	} else {
		pair.even = frame
	}
	even, oddFrame := pair.even, pair.odd
	r.mu.Unlock()

	if even.at.IsZero() || oddFrame.at.IsZero() {
		return 0, 0, false
	}
	if absDuration(even.at.Sub(oddFrame.at)) > r.maxAge {
		return 0, 0, false
	}
	return decodeCPRGlobal(even, oddFrame, odd)
}

// Forget drops CPR state older than maxAge relative to now
func (r *CPRResolver) Forget(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hex, pair := range r.entries {
		latest := pair.even.at
		if pair.odd.at.After(latest) {
			latest = pair.odd.at
		}
		if now.Sub(latest) > r.maxAge {
			delete(r.entries, hex)
		}
	}
}

// Len returns the number of aircraft with pending CPR state
func (r *CPRResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func decodeCPRGlobal(even, odd cprFrame, oddLatest bool) (float64, float64, bool) {
	const dLatEven = 360.0 / (4 * cprNZ)
	const dLatOdd = 360.0 / (4*cprNZ - 1)

	latEvenCPR := float64(even.lat) / cprScale
	latOddCPR := float64(odd.lat) / cprScale
	lonEvenCPR := float64(even.lon) / cprScale
	lonOddCPR := float64(odd.lon) / cprScale

	j := math.Floor(59*latEvenCPR - 60*latOddCPR + 0.5)

	latEven := dLatEven * (cprMod(j, 60) + latEvenCPR)
	latOdd := dLatOdd * (cprMod(j, 59) + latOddCPR)
	if latEven >= 270 {
		latEven -= 360
	}
	if latOdd >= 270 {
		latOdd -= 360
	}
	if latEven < -90 || latEven > 90 || latOdd < -90 || latOdd > 90 {
		return 0, 0, false
	}

	// Both frames must fall in the same longitude zone band.
	nl := cprNL(latEven)
	if nl != cprNL(latOdd) {
		return 0, 0, false
	}

	lat := latEven
	lonCPR := lonEvenCPR
	ni := nl
	if oddLatest {
		lat = latOdd
		lonCPR = lonOddCPR
		ni = nl - 1
	}
	if ni < 1 {
		ni = 1
	}

	m := math.Floor(lonEvenCPR*float64(nl-1) - lonOddCPR*float64(nl) + 0.5)
	lon := (360.0 / float64(ni)) * (cprMod(m, float64(ni)) + lonCPR)
	if lon >= 180 {
		lon -= 360
	}
	return lat, lon, true
}

// cprNL returns the number of longitude zones at a latitude
func cprNL(lat float64) int {
	lat = math.Abs(lat)
	switch {
	case lat == 0:
		return 59
	case lat == 87:
		return 2
	case lat > 87:
		return 1
	}
	a := 1 - math.Cos(math.Pi/(2*cprNZ))
	b := math.Pow(math.Cos(math.Pi/180*lat), 2)
	return int(math.Floor(2 * math.Pi / math.Acos(1-a/b)))
}

func cprMod(a, b float64) float64 {
	res := math.Mod(a, b)
	if res < 0 {
		res += b
	}
	return res
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
