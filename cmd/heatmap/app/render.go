package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

const (
	dpi            = 120.0
	fontSize       = 12.0
	tickMarkHeight = 5
	rowHeight      = 24 // Pixel height of one device band

	// Default border sizes in pixels
	defaultTopBorder    = 20
	defaultLeftBorder   = 100
	defaultBottomBorder = 60
	defaultRightBorder  = 20

	defaultTimeFormat     = "15:04"
	defaultDatetimeFormat = time.DateTime
)

// BorderConfig defines the sizes of white space around the grid
type BorderConfig struct {
	Top    int // Top padding
	Left   int // Space for device labels
	Bottom int // Space for time scale and information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for grid visualization
type RenderConfig struct {
	// Time display configuration
	TimeFormat     string         // Format string for time display (e.g. "15:04")
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display

	// Visual configuration
	FontFile     string     // Path to a TrueType font, empty disables labels
	FontSize     float64    // Font size in points
	ColorTheme   ColorTheme // Color scheme for reading values
	ColorMapSize int        // Number of colors in gradient (0 for default)
	NoLabels     bool       // Skip scales and the information bar

	// Border configuration
	BorderConfig BorderConfig
}

// GridRenderer handles the visualization of device readings over time
type GridRenderer struct {
	colorMap *ColorMapper
	config   RenderConfig
}

// NewGridRenderer creates a new grid renderer with the given configuration
func NewGridRenderer(config RenderConfig) (*GridRenderer, error) {
	// Set defaults for zero values
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}
	if config.FontFile == "" {
		config.NoLabels = true
	}

	return &GridRenderer{config: config}, nil
}

// Render creates an image of the grid data with annotations
func (r *GridRenderer) Render(grid *HeatGrid) (*image.RGBA, error) {
	gridWidth := grid.Columns
	gridHeight := len(grid.Devices) * rowHeight

	fullWidth := gridWidth + r.config.BorderConfig.Left + r.config.BorderConfig.Right
	fullHeight := gridHeight + r.config.BorderConfig.Top + r.config.BorderConfig.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	// Fill with white background
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	// Define grid area (one pixel per time bucket)
	gridArea := image.Rect(
		r.config.BorderConfig.Left,
		r.config.BorderConfig.Top,
		r.config.BorderConfig.Left+gridWidth,
		r.config.BorderConfig.Top+gridHeight,
	)

	bounds := grid.BoundsTracker.Current()
	if r.colorMap == nil {
		r.colorMap = NewColorMapperWithSize(r.config.ColorTheme, bounds, r.config.ColorMapSize)
	} else {
		r.colorMap.UpdateBounds(bounds)
	}

	if !r.config.NoLabels {
		ann, err := newAnnotator(annotatorConfig{
			FontFile:       r.config.FontFile,
			TimeFormat:     r.config.TimeFormat,
			DatetimeFormat: r.config.DatetimeFormat,
			Location:       r.config.Location,
			FontSize:       r.config.FontSize,
			Borders:        r.config.BorderConfig,
		})
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, grid); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	r.renderGrid(img, gridArea, grid)

	return img, nil
}

// renderGrid draws the cell data using the color map
func (r *GridRenderer) renderGrid(img *image.RGBA, area image.Rectangle, grid *HeatGrid) {
	for row, cells := range grid.Cells {
		bandTop := area.Min.Y + row*rowHeight
		for x, value := range cells {
			imgX := area.Min.X + x
			c := r.colorMap.GetColor(value)
			for y := bandTop; y < bandTop+rowHeight; y++ {
				img.Set(imgX, y, c)
			}
		}
	}
}

// Internal annotator implementation
type annotatorConfig struct {
	FontFile       string
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	fontBytes, err := os.ReadFile(config.FontFile)
	if err != nil {
		return nil, fmt.Errorf("reading font file: %w", err)
	}
	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, grid *HeatGrid) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawDeviceScale(img, grid); err != nil {
		return fmt.Errorf("drawing device scale: %w", err)
	}
	if err := a.drawTimeScale(img, grid); err != nil {
		return fmt.Errorf("drawing time scale: %w", err)
	}
	if err := a.drawInfoBar(img, grid); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}

	return nil
}

func (a *annotator) drawDeviceScale(img *image.RGBA, grid *HeatGrid) error {
	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	for row, device := range grid.Devices {
		bandTop := a.config.Borders.Top + row*rowHeight

		// Draw tick mark at the band center
		tickY := bandTop + rowHeight/2
		for x := a.config.Borders.Left - tickMarkHeight; x < a.config.Borders.Left; x++ {
			img.Set(x, tickY, color.Black)
		}

		// Center label vertically in the band
		textY := bandTop + (rowHeight+fontHeight)/2 - metrics.Descent.Round()
		pt := freetype.Pt(10, textY)
		if _, err := a.context.DrawString(device, pt); err != nil {
			return fmt.Errorf("drawing device label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, grid *HeatGrid) error {
	duration := grid.TimestampEnd.Sub(grid.TimestampStart)
	timeStep := calculateNiceTimeStep(duration)

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	gridBottom := a.config.Borders.Top + len(grid.Devices)*rowHeight
	textY := gridBottom + tickMarkHeight + fontHeight

	for t := grid.TimestampStart; !t.After(grid.TimestampEnd); t = t.Add(timeStep) {
		x := a.config.Borders.Left + int(t.Sub(grid.TimestampStart)/grid.Step)

		// Draw tick mark
		for y := gridBottom; y < gridBottom+tickMarkHeight; y++ {
			img.Set(x, y, color.Black)
		}

		label := t.In(a.config.Location).Format(a.config.TimeFormat)
		width := font.MeasureString(a.fontFace, label)
		pt := freetype.Pt(x-(width.Round()/2), textY)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, grid *HeatGrid) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Sensor: %s", grid.Sensor))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Time: %s - %s",
		grid.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
		grid.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("%s readings", humanize.Comma(int64(grid.Count()))))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("1px = %s", grid.Step))

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	// Center text vertically in the space below the time scale
	textY := img.Bounds().Max.Y - (fontHeight / 2)

	pt := freetype.Pt(a.config.Borders.Left, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}

	return nil
}

func calculateNiceTimeStep(duration time.Duration) time.Duration {
	seconds := duration.Seconds()
	roughStep := seconds / 8 // Aim for about 8 time labels

	// Nice time intervals in seconds
	niceIntervals := []float64{
		60,    // 1 minute
		300,   // 5 minutes
		600,   // 10 minutes
		900,   // 15 minutes
		1800,  // 30 minutes
		3600,  // 1 hour
		7200,  // 2 hours
		14400, // 4 hours
	}

	// Find the first interval larger than our rough step
	for _, interval := range niceIntervals {
		if roughStep <= interval {
			return time.Duration(interval) * time.Second
		}
	}

	return time.Hour * 6 // Default for very long durations
}
