package app

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

type Config struct {
	DBPath        string
	Sensor        sensor.Type
	OutputFile    string
	Format        ImageFormat
	Theme         ColorTheme
	MinTimestamp  *time.Time
	MaxTimestamp  *time.Time
	TimeZone      *time.Location
	FontFile      string
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

var validSensors = map[sensor.Type]struct{}{
	sensor.Temperature: {},
	sensor.Humidity:    {},
	sensor.CO:          {},
	sensor.LPG:         {},
	sensor.Smoke:       {},
}

// timestampLayouts are accepted by the -from and -to flags.
var timestampLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

func NewConfig() *Config {
	return &Config{
		Format:   ImagePNG,
		Theme:    ThermalTheme,
		TimeZone: time.Local,
	}
}

func NewConfigFromCLI() (*Config, error) {
	c := NewConfig()

	var imageFormat, theme, sensorName, from, to string
	flag.StringVar(&c.DBPath, "db", "", "Path to the database file")
	flag.StringVar(&sensorName, "sensor", string(sensor.Temperature), "Sensor to visualize. [temp, humidity, co, lpg, smoke]")
	flag.StringVar(&c.OutputFile, "o", "", "Path to the output file")
	flag.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	flag.StringVar(&theme, "theme", string(ThermalTheme), "Color theme. [thermal, classic, grayscale]")
	flag.StringVar(&from, "from", "", "Start of the time range (RFC3339 or '2006-01-02 15:04:05')")
	flag.StringVar(&to, "to", "", "End of the time range (RFC3339 or '2006-01-02 15:04:05')")
	flag.StringVar(&c.FontFile, "font", "", "Path to a TrueType font for scale labels")
	flag.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	flag.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as time and device scales")
	flag.Parse()

	imageFormat = strings.ToLower(imageFormat)
	sensorName = strings.ToLower(sensorName)

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if _, ok := validSensors[sensor.Type(sensorName)]; !ok {
		err = fmt.Errorf("invalid sensor: %s", sensorName)
	}

	if err == nil && from != "" {
		if c.MinTimestamp, err = parseTimestamp(from); err != nil {
			err = fmt.Errorf("invalid -from value: %w", err)
		}
	}
	if err == nil && to != "" {
		if c.MaxTimestamp, err = parseTimestamp(to); err != nil {
			err = fmt.Errorf("invalid -to value: %w", err)
		}
	}

	if err != nil {
		flag.Usage()
		return nil, err
	}

	c.Sensor = sensor.Type(sensorName)
	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func parseTimestamp(value string) (*time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", value)
}
