package adapters

import "time"

// TimestampUnit is the timestamp axis of adapter composition: the unit an
// exchange uses on the wire. Every timestamp is converted to whole epoch
// seconds at the adapter boundary, so the rest of the library never carries
// unit knowledge.
type TimestampUnit int

const (
	// UnitSeconds marks exchanges speaking epoch seconds.
	UnitSeconds TimestampUnit = iota

	// UnitMilliseconds marks exchanges speaking epoch milliseconds.
	UnitMilliseconds
)

// ToWire converts a time.Time into the exchange's wire unit.
func (u TimestampUnit) ToWire(t time.Time) int64 {
	if u == UnitMilliseconds {
		return t.UnixMilli()
	}
	return t.Unix()
}

// FromWire normalizes a wire timestamp to epoch seconds, truncating any
// sub-second component.
func (u TimestampUnit) FromWire(v int64) int64 {
	if u == UnitMilliseconds {
		return v / 1000
	}
	return v
}
