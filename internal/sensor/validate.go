package sensor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Reason is a machine-readable rejection reason code.
type Reason string

const (
	MissingField     Reason = "MISSING_FIELD"
	InvalidType      Reason = "INVALID_TYPE"
	OutOfRange       Reason = "OUT_OF_RANGE"
	InvalidTimestamp Reason = "INVALID_TIMESTAMP"
)

// MaxDeviceIDLen bounds the device identifier to 17 characters, the raw
// table column width. The limit counts characters, not bytes.
const MaxDeviceIDLen = 17

// Rejection describes why a raw row failed validation.
type Rejection struct {
	Field  string // Column that triggered the rejection
	Reason Reason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("field %s: %s", r.Field, r.Reason)
}

// Range bounds a numeric field to physically plausible values.
// Both bounds are inclusive.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains returns true if v falls within the range, boundary values included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Rules configures the Validator.
type Rules struct {
	// Ranges maps each numeric sensor type to its plausible range.
	// A type without a range accepts any finite value.
	Ranges map[Type]Range

	// TimeLayouts are tried in order when parsing the ts column.
	TimeLayouts []string

	// TrueTokens and FalseTokens are the accepted boolean spellings,
	// matched case-insensitively.
	TrueTokens  []string
	FalseTokens []string
}

// DefaultRules returns the validation rules matching the sensor fleet:
// temperature in [-40, 125] degrees Celsius, humidity in [0, 100] percent
// and non-negative gas concentrations.
func DefaultRules() Rules {
	return Rules{
		Ranges: map[Type]Range{
			Temperature: {Min: -40, Max: 125},
			Humidity:    {Min: 0, Max: 100},
			CO:          {Min: 0, Max: 1},
			LPG:         {Min: 0, Max: 1},
			Smoke:       {Min: 0, Max: 1},
		},
		TimeLayouts: []string{time.RFC3339, time.DateTime, "2006-01-02 15:04:05.999999999"},
		TrueTokens:  []string{"true", "1", "yes", "on"},
		FalseTokens: []string{"false", "0", "no", "off"},
	}
}

// Validator turns raw CSV rows into typed Records. It is a pure function of
// its rules: the same row always yields the same verdict, and validation has
// no side effects.
type Validator struct {
	rules  Rules
	truthy map[string]bool // token -> boolean value, both spellings merged
}

// NewValidator creates a Validator with the given rules. Empty rule sets
// fall back to DefaultRules values.
func NewValidator(rules Rules) *Validator {
	defaults := DefaultRules()
	if rules.Ranges == nil {
		rules.Ranges = defaults.Ranges
	}
	if len(rules.TimeLayouts) == 0 {
		rules.TimeLayouts = defaults.TimeLayouts
	}
	if len(rules.TrueTokens) == 0 {
		rules.TrueTokens = defaults.TrueTokens
	}
	if len(rules.FalseTokens) == 0 {
		rules.FalseTokens = defaults.FalseTokens
	}

	truthy := make(map[string]bool, len(rules.TrueTokens)+len(rules.FalseTokens))
	for _, t := range rules.TrueTokens {
		truthy[strings.ToLower(t)] = true
	}
	for _, t := range rules.FalseTokens {
		truthy[strings.ToLower(t)] = false
	}

	return &Validator{rules: rules, truthy: truthy}
}

// Validate checks one raw row, given as a column name to value mapping, and
// returns either a typed Record or a Rejection carrying the failed field and
// reason code. Timestamp and device are mandatory; numeric and boolean
// fields are optional but must parse and fall within their plausible range
// when present. Out-of-range values are rejected, never clamped.
func (v *Validator) Validate(row map[string]string) (*Record, *Rejection) {
	ts, ok := nonEmpty(row, "ts")
	if !ok {
		return nil, &Rejection{Field: "ts", Reason: MissingField}
	}

	device, ok := nonEmpty(row, "device")
	if !ok {
		return nil, &Rejection{Field: "device", Reason: MissingField}
	}
	if utf8.RuneCountInString(device) > MaxDeviceIDLen {
		return nil, &Rejection{Field: "device", Reason: OutOfRange}
	}

	timestamp, err := v.parseTimestamp(ts)
	if err != nil {
		return nil, &Rejection{Field: "ts", Reason: InvalidTimestamp}
	}

	rec := Record{
		Timestamp: timestamp,
		DeviceID:  device,
	}

	for _, t := range NumericTypes {
		value, rej := v.parseNumeric(row, string(t), t)
		if rej != nil {
			return nil, rej
		}

		switch t {
		case Temperature:
			rec.Temp = value
		case Humidity:
			rec.Humidity = value
		case CO:
			rec.CO = value
		case LPG:
			rec.LPG = value
		case Smoke:
			rec.Smoke = value
		}
	}

	var rej *Rejection
	if rec.Motion, rej = v.parseBool(row, "motion"); rej != nil {
		return nil, rej
	}
	if rec.Light, rej = v.parseBool(row, "light"); rej != nil {
		return nil, rej
	}

	return &rec, nil
}

func (v *Validator) parseTimestamp(value string) (time.Time, error) {
	for _, layout := range v.rules.TimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func (v *Validator) parseNumeric(row map[string]string, field string, t Type) (*float64, *Rejection) {
	raw, ok := nonEmpty(row, field)
	if !ok || strings.EqualFold(raw, "nan") { // NaN is the fleet's null marker
		return nil, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(value, 0) || math.IsNaN(value) {
		return nil, &Rejection{Field: field, Reason: InvalidType}
	}

	if r, ok := v.rules.Ranges[t]; ok && !r.Contains(value) {
		return nil, &Rejection{Field: field, Reason: OutOfRange}
	}
	return &value, nil
}

func (v *Validator) parseBool(row map[string]string, field string) (*bool, *Rejection) {
	raw, ok := nonEmpty(row, field)
	if !ok {
		return nil, nil
	}

	value, known := v.truthy[strings.ToLower(raw)]
	if !known {
		return nil, &Rejection{Field: field, Reason: InvalidType}
	}
	return &value, nil
}

func nonEmpty(row map[string]string, field string) (string, bool) {
	value, ok := row[field]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
