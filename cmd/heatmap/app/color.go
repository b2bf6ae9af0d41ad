package app

import (
	"image/color"
)

// ColorTheme selects the palette used to render reading values.
type ColorTheme string

const (
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	ClassicTheme   ColorTheme = "classic"   // Blue to green to red
	GrayscaleTheme ColorTheme = "grayscale" // Black to white

	DefaultColorMapSize = 256 // Default number of colors in the map
)

// noDataColor fills cells where a device reported nothing in a time bucket.
var noDataColor = color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xff}

// gradientStop pins a color at a position along the normalized [0, 1] value
// axis. A palette is an ordered list of stops, interpolated linearly between
// neighbours.
type gradientStop struct {
	at float64
	c  color.RGBA
}

var palettes = map[ColorTheme][]gradientStop{
	ThermalTheme: {
		{at: 0, c: color.RGBA{A: 0xff}},
		{at: 0.33, c: color.RGBA{R: 0xff, A: 0xff}},
		{at: 0.66, c: color.RGBA{R: 0xff, G: 0xff, A: 0xff}},
		{at: 1, c: color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}},
	},
	ClassicTheme: {
		{at: 0, c: color.RGBA{B: 0xd0, A: 0xff}},
		{at: 0.5, c: color.RGBA{G: 0xc0, A: 0xff}},
		{at: 1, c: color.RGBA{R: 0xd0, A: 0xff}},
	},
	GrayscaleTheme: {
		{at: 0, c: color.RGBA{A: 0xff}},
		{at: 1, c: color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}},
	},
}

// ColorMapper maps reading values onto a palette. Colors are precomputed
// into a fixed-size table, so the per-cell lookup is a bounds check and an
// index.
type ColorMapper struct {
	colorMap []color.Color
	stops    []gradientStop
	size     int

	boundsMin     float64
	valuePerIndex float64
}

// NewColorMapper creates a color mapper for the theme with the default table
// size. An unknown theme falls back to thermal.
func NewColorMapper(theme ColorTheme, bounds ValueBounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

// NewColorMapperWithSize creates a color mapper with the given number of
// precomputed colors.
func NewColorMapperWithSize(theme ColorTheme, bounds ValueBounds, size int) *ColorMapper {
	if size <= 0 {
		size = DefaultColorMapSize
	}

	stops, ok := palettes[theme]
	if !ok {
		stops = palettes[ThermalTheme]
	}

	cm := &ColorMapper{
		colorMap: make([]color.Color, size),
		stops:    stops,
		size:     size,
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds moves the value range the palette is stretched over and
// rebuilds the color table.
func (cm *ColorMapper) UpdateBounds(bounds ValueBounds) {
	cm.boundsMin = bounds.Min
	cm.valuePerIndex = (bounds.Max - bounds.Min) / float64(cm.size-1)

	for i := range cm.colorMap {
		cm.colorMap[i] = cm.interpolate(float64(i) / float64(cm.size-1))
	}
}

// GetColor returns the color for a reading value. Values outside the bounds
// clamp to the palette ends; nil readings get the no-data color.
func (cm *ColorMapper) GetColor(value *float64) color.Color {
	if value == nil {
		return noDataColor
	}

	index := int((*value - cm.boundsMin) / cm.valuePerIndex)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// Size returns the color table size.
func (cm *ColorMapper) Size() int {
	return cm.size
}

// interpolate evaluates the palette at position t in [0, 1].
func (cm *ColorMapper) interpolate(t float64) color.RGBA {
	stops := cm.stops
	if t <= stops[0].at {
		return stops[0].c
	}

	for i := 1; i < len(stops); i++ {
		if t > stops[i].at {
			continue
		}
		lo, hi := stops[i-1], stops[i]
		f := (t - lo.at) / (hi.at - lo.at)
		return color.RGBA{
			R: lerp(lo.c.R, hi.c.R, f),
			G: lerp(lo.c.G, hi.c.G, f),
			B: lerp(lo.c.B, hi.c.B, f),
			A: 0xff,
		}
	}
	return stops[len(stops)-1].c
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*f + 0.5)
}
