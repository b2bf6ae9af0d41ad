package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/roman-kulish/sensor-ingest/internal/sensor"
)

// ErrFileStructure marks a file-level failure: the file cannot be opened,
// decoded or its header is unusable. It is distinct from row-level
// rejections, which never fail the whole file, and routes the file to the
// corrupt quarantine area without any row reaching the validator.
var ErrFileStructure = errors.New("file structure error")

// RejectedRow couples one raw row with its validation verdict. Index is the
// 1-based data row position within the file (the header is not counted).
type RejectedRow struct {
	Index  int      `json:"index"`
	Raw    []string `json:"raw"`
	Field  string   `json:"field"`
	Reason string   `json:"reason"`
}

// FileResult is the outcome of validating one file. Accepted and Rejected
// preserve the original row order for diagnostic fidelity.
type FileResult struct {
	FileName string
	Header   []string
	Accepted []*sensor.Record
	Rejected []RejectedRow
}

// WithProcessorLogger sets the logger for row-level diagnostics
func WithProcessorLogger(logger *slog.Logger) func(p *Processor) {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor reads one CSV file, applies the validator to every row and
// splits rows into accepted records and rejected row descriptors. A single
// malformed row never fails the whole file.
type Processor struct {
	validator *sensor.Validator
	logger    *slog.Logger
}

// NewProcessor creates a new Processor with a discard logger
func NewProcessor(validator *sensor.Validator, options ...func(p *Processor)) *Processor {
	p := Processor{
		validator: validator,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&p)
	}

	return &p
}

// Process reads the file at path in row order and returns the per-file
// result. Structural failures (unreadable file, undecodable header, missing
// mandatory columns) are reported as an error wrapping ErrFileStructure;
// row-level problems are collected into FileResult.Rejected instead.
func (p *Processor) Process(path string) (*FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening file: %w", ErrFileStructure, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // row length is checked per row, not fatally
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrFileStructure, err)
	}
	for i := range header {
		if !utf8.ValidString(header[i]) {
			return nil, fmt.Errorf("%w: header is not valid UTF-8", ErrFileStructure)
		}
		header[i] = strings.TrimSpace(header[i])
	}
	if err := checkHeader(header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileStructure, err)
	}

	result := FileResult{
		FileName: filepath.Base(path),
		Header:   header,
	}

	logger := p.logger.With(slog.String("file", result.FileName))
	for index := 1; ; index++ {
		raw, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrQuote) {
			// A broken quote desynchronizes the reader; nothing after this
			// point can be trusted.
			return nil, fmt.Errorf("%w: parsing row %d: %w", ErrFileStructure, index, err)
		}
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedRow{
				Index:  index,
				Field:  "row",
				Reason: string(sensor.InvalidType),
			})
			logger.Warn("rejected malformed row", slog.Int("row", index), slog.String("error", err.Error()))
			continue
		}

		if len(raw) != len(header) {
			result.Rejected = append(result.Rejected, RejectedRow{
				Index:  index,
				Raw:    raw,
				Field:  "row",
				Reason: string(sensor.InvalidType),
			})
			logger.Warn("rejected row with wrong field count", slog.Int("row", index), slog.Int("fields", len(raw)))
			continue
		}

		row := make(map[string]string, len(header))
		for i, name := range header {
			row[name] = raw[i]
		}

		record, rejection := p.validator.Validate(row)
		if rejection != nil {
			result.Rejected = append(result.Rejected, RejectedRow{
				Index:  index,
				Raw:    raw,
				Field:  rejection.Field,
				Reason: string(rejection.Reason),
			})
			logger.Warn("rejected row", slog.Int("row", index), slog.String("field", rejection.Field), slog.String("reason", string(rejection.Reason)))
			continue
		}

		result.Accepted = append(result.Accepted, record)
	}

	return &result, nil
}

func checkHeader(header []string) error {
	columns := make(map[string]struct{}, len(header))
	for _, name := range header {
		columns[name] = struct{}{}
	}
	for _, required := range []string{"ts", "device"} {
		if _, ok := columns[required]; !ok {
			return fmt.Errorf("header is missing required column %q", required)
		}
	}
	return nil
}
