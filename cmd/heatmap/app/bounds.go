package app

import (
	"math"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

const (
	// For 20 samples:
	// - 5% percentile  = 1 sample
	// - 95% percentile = 19th sample
	minimumSampleCount = 20
)

// ValueBounds represents the calculated display boundaries for a sensor
type ValueBounds struct {
	Min  float64 // 5th percentile value
	Max  float64 // 95th percentile value
	Mean float64 // Mean value
}

// defaultBinWidth returns the histogram bin width for a sensor type. Gas
// sensors report fractions in [0, 1], so they need much finer bins than
// temperature or humidity.
func defaultBinWidth(sensorType sensor.Type) float64 {
	switch sensorType {
	case sensor.CO, sensor.LPG, sensor.Smoke:
		return 0.0001
	default:
		return 0.5
	}
}

// defaultBounds returns the fallback display range when too few samples have
// been observed to compute percentiles.
func defaultBounds(sensorType sensor.Type) ValueBounds {
	var min, max float64
	switch sensorType {
	case sensor.Temperature:
		min, max = -40, 125
	case sensor.Humidity:
		min, max = 0, 100
	default:
		min, max = 0, 1
	}
	return ValueBounds{Min: min, Max: max, Mean: (min + max) / 2}
}

// ValueHistogram maintains a histogram of reading values with fixed-width
// bins, sized to the sensor's scale
type ValueHistogram struct {
	binWidth   float64
	bins       map[int]uint32 // Map of bin index to count
	totalCount uint64         // Total number of samples
	minBin     int            // Cache for min bin
	maxBin     int            // Cache for max bin
}

// NewValueHistogram creates a new histogram with the given bin width
func NewValueHistogram(binWidth float64) *ValueHistogram {
	return &ValueHistogram{
		binWidth: binWidth,
		bins:     make(map[int]uint32),
		minBin:   math.MaxInt32,
		maxBin:   math.MinInt32,
	}
}

// binIndex converts a reading value to a bin index
func (h *ValueHistogram) binIndex(value float64) int {
	return int(math.Floor(value / h.binWidth))
}

// scaleDown scales all bin counts down by factor of 2
func (h *ValueHistogram) scaleDown() {
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32

	for bin := range h.bins {
		h.bins[bin] /= 2
		// Remove bin if it becomes 0
		if h.bins[bin] == 0 {
			delete(h.bins, bin)
			continue
		}

		if bin < h.minBin {
			h.minBin = bin
		}
		if bin > h.maxBin {
			h.maxBin = bin
		}
	}
	h.totalCount /= 2
}

// Update adds a new reading value to the histogram
func (h *ValueHistogram) Update(value *float64) {
	if value == nil {
		return
	}

	bin := h.binIndex(*value)

	// Check both conditions for scaling
	if h.bins[bin] == math.MaxUint32 || h.totalCount == math.MaxUint64 {
		h.scaleDown()
	}

	h.bins[bin]++
	h.totalCount++

	if bin < h.minBin {
		h.minBin = bin
	}
	if bin > h.maxBin {
		h.maxBin = bin
	}
}

// PercentileBounds returns display bounds based on the 5th and 95th
// percentiles, with a 10% margin on each side. fallback is returned until
// the histogram has seen enough samples.
func (h *ValueHistogram) PercentileBounds(fallback ValueBounds) ValueBounds {
	if h.totalCount < minimumSampleCount {
		return fallback
	}

	target5th := h.totalCount * 5 / 100

	var count uint64
	var min5th, max95th int

	// Find 5th percentile
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += uint64(h.bins[bin])
		if count >= target5th {
			min5th = bin
			break
		}
	}

	// Find 95th percentile
	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target5th {
			max95th = bin
			break
		}
	}

	// Calculate mean (weighted average of bin centers)
	var sumProduct float64
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		sumProduct += float64(bin) * float64(h.bins[bin])
	}
	mean := sumProduct / float64(h.totalCount) * h.binWidth

	// A degenerate range collapses the gradient, keep at least two bins
	if max95th-min5th < 2 {
		center := (max95th + min5th) / 2
		min5th = center - 1
		max95th = center + 1
	}

	// Add small margin
	margin := float64(max95th-min5th) * h.binWidth / 10 // 10% margin
	minValue := float64(min5th)*h.binWidth - margin
	maxValue := float64(max95th+1)*h.binWidth + margin

	return ValueBounds{
		Min:  minValue,
		Max:  maxValue,
		Mean: mean,
	}
}

// BoundsTracker accumulates reading values and exposes percentile display
// bounds for one sensor type
type BoundsTracker struct {
	hist     *ValueHistogram
	fallback ValueBounds
}

// NewBoundsTracker creates a bounds tracker sized to the sensor's scale
func NewBoundsTracker(sensorType sensor.Type) *BoundsTracker {
	return &BoundsTracker{
		hist:     NewValueHistogram(defaultBinWidth(sensorType)),
		fallback: defaultBounds(sensorType),
	}
}

// Update adds a new reading value
func (b *BoundsTracker) Update(value *float64) {
	b.hist.Update(value)
}

// Current returns the current display bounds
func (b *BoundsTracker) Current() ValueBounds {
	return b.hist.PercentileBounds(b.fallback)
}
