package app

import (
	"sort"
	"time"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
	"github.com/roman-kulish/sensor-ingest/internal/storage"
)

// HeatGrid accumulates stored readings of one sensor type into a
// device-by-time grid. Each row is one device, each column one time bucket,
// and each cell holds the mean of the readings falling into the bucket.
type HeatGrid struct {
	Sensor         sensor.Type
	Devices        []string // Row order, sorted by device id
	TimestampStart time.Time
	TimestampEnd   time.Time
	Step           time.Duration // Time covered by one column
	Columns        int
	Cells          [][]*float64 // [row][column], nil when no reading fell in
	BoundsTracker  *BoundsTracker

	points map[string][]point
	count  int
}

type point struct {
	ts    time.Time
	value float64
}

// NewHeatGrid creates an empty grid for one sensor type.
func NewHeatGrid(sensorType sensor.Type) *HeatGrid {
	return &HeatGrid{
		Sensor:        sensorType,
		BoundsTracker: NewBoundsTracker(sensorType),
		points:        make(map[string][]point),
	}
}

// Update adds a reading to the grid. Readings without a value for the
// sensor are counted for coverage but contribute no cell data.
func (g *HeatGrid) Update(p storage.ReadingPoint) {
	g.count++

	if g.TimestampStart.IsZero() || g.TimestampStart.After(p.Timestamp) {
		g.TimestampStart = p.Timestamp
	}
	if g.TimestampEnd.IsZero() || g.TimestampEnd.Before(p.Timestamp) {
		g.TimestampEnd = p.Timestamp
	}

	if p.Value == nil {
		return
	}

	g.points[p.Device] = append(g.points[p.Device], point{ts: p.Timestamp, value: *p.Value})
	g.BoundsTracker.Update(p.Value)
}

// Count returns the number of readings seen, with or without a value.
func (g *HeatGrid) Count() int {
	return g.count
}

// Finalize buckets the accumulated readings into at most targetWidth
// columns and computes per-cell means. It must be called once, after the
// last Update.
func (g *HeatGrid) Finalize(targetWidth int) {
	if len(g.points) == 0 {
		return
	}
	if targetWidth <= 0 {
		targetWidth = 1024
	}

	g.Devices = make([]string, 0, len(g.points))
	for device := range g.points {
		g.Devices = append(g.Devices, device)
	}
	sort.Strings(g.Devices)

	duration := g.TimestampEnd.Sub(g.TimestampStart)
	g.Step = bucketStep(duration, targetWidth)
	g.Columns = int(duration/g.Step) + 1

	sums := make([][]float64, len(g.Devices))
	counts := make([][]int, len(g.Devices))
	g.Cells = make([][]*float64, len(g.Devices))
	for row := range g.Devices {
		sums[row] = make([]float64, g.Columns)
		counts[row] = make([]int, g.Columns)
		g.Cells[row] = make([]*float64, g.Columns)
	}

	for row, device := range g.Devices {
		for _, p := range g.points[device] {
			col := int(p.ts.Sub(g.TimestampStart) / g.Step)
			if col >= g.Columns {
				col = g.Columns - 1
			}
			sums[row][col] += p.value
			counts[row][col]++
		}
	}

	for row := range g.Devices {
		for col := 0; col < g.Columns; col++ {
			if counts[row][col] == 0 {
				continue
			}
			mean := sums[row][col] / float64(counts[row][col])
			g.Cells[row][col] = &mean
		}
	}

	g.points = nil
}

// bucketStep picks a round bucket duration so the grid is at most
// targetWidth columns wide.
func bucketStep(duration time.Duration, targetWidth int) time.Duration {
	steps := []time.Duration{
		time.Second,
		5 * time.Second,
		15 * time.Second,
		30 * time.Second,
		time.Minute,
		5 * time.Minute,
		15 * time.Minute,
		30 * time.Minute,
		time.Hour,
		6 * time.Hour,
		24 * time.Hour,
	}

	for _, step := range steps {
		if duration/step < time.Duration(targetWidth) {
			return step
		}
	}
	return steps[len(steps)-1]
}
