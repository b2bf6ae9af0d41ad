package sensor

import "time"

// Type identifies one measured quantity carried by a reading.
type Type string

const (
	Temperature Type = "temp"
	Humidity    Type = "humidity"
	CO          Type = "co"
	LPG         Type = "lpg"
	Smoke       Type = "smoke"
)

// NumericTypes lists the numeric sensor types in raw table column order.
var NumericTypes = []Type{Temperature, Humidity, CO, LPG, Smoke}

// Record represents a single validated sensor reading. Numeric and boolean
// fields are pointers to allow for explicit missing data representation.
// A Record is immutable once produced by the Validator; corrections require
// re-ingesting the data under a new file name.
type Record struct {
	Timestamp time.Time // Reading timestamp, normalized to UTC
	DeviceID  string    // Reporting device identifier
	Temp      *float64  // Temperature in degrees Celsius
	Humidity  *float64  // Relative humidity in percent
	CO        *float64  // Carbon monoxide concentration
	LPG       *float64  // Liquefied petroleum gas concentration
	Smoke     *float64  // Smoke concentration
	Motion    *bool     // Motion detector state
	Light     *bool     // Light detector state
}

// Value returns the reading for the given numeric sensor type,
// or nil when the type is unknown or the value is missing.
func (r *Record) Value(t Type) *float64 {
	switch t {
	case Temperature:
		return r.Temp
	case Humidity:
		return r.Humidity
	case CO:
		return r.CO
	case LPG:
		return r.LPG
	case Smoke:
		return r.Smoke
	default:
		return nil
	}
}
