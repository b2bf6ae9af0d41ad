package sensor

import (
	"math"
	"sort"
)

// Aggregate holds the per-device, per-sensor statistics computed over the
// accepted records of a single file. StdDev is the population standard
// deviation over just this file's values; a single-value aggregate has
// StdDev 0.
type Aggregate struct {
	DeviceID string
	Sensor   Type
	Count    int64
	Min      float64
	Max      float64
	Mean     float64
	StdDev   float64
}

// welford accumulates running statistics using Welford's online algorithm
// for numerical stability.
type welford struct {
	count    int64
	mean, m2 float64
	min, max float64
}

func (w *welford) add(v float64) {
	if w.count == 0 {
		w.min, w.max = v, v
	} else {
		w.min = math.Min(w.min, v)
		w.max = math.Max(w.max, v)
	}

	w.count++
	delta := v - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (v - w.mean)
}

func (w *welford) stdDev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

// ComputeAggregates reduces the given records to one Aggregate per device
// and numeric sensor type. Sensor types with no non-null values for a device
// produce no entry. The reduction is order-independent; results are returned
// sorted by device and sensor type for deterministic storage.
func ComputeAggregates(records []*Record) []Aggregate {
	type key struct {
		device string
		sensor Type
	}

	stats := make(map[key]*welford)
	for i := range records {
		for _, t := range NumericTypes {
			value := records[i].Value(t)
			if value == nil {
				continue
			}

			k := key{device: records[i].DeviceID, sensor: t}
			w, ok := stats[k]
			if !ok {
				w = &welford{}
				stats[k] = w
			}
			w.add(*value)
		}
	}

	order := make(map[Type]int, len(NumericTypes))
	for i, t := range NumericTypes {
		order[t] = i
	}

	aggregates := make([]Aggregate, 0, len(stats))
	for k, w := range stats {
		aggregates = append(aggregates, Aggregate{
			DeviceID: k.device,
			Sensor:   k.sensor,
			Count:    w.count,
			Min:      w.min,
			Max:      w.max,
			Mean:     w.mean,
			StdDev:   w.stdDev(),
		})
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].DeviceID != aggregates[j].DeviceID {
			return aggregates[i].DeviceID < aggregates[j].DeviceID
		}
		return order[aggregates[i].Sensor] < order[aggregates[j].Sensor]
	})
	return aggregates
}
