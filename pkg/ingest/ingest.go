// Package ingest loads source files into SourceRecords through their source mappings
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/extractor"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// RowError is a row that could not be mapped. It never reaches a run.
type RowError struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Err  string `json:"error"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Err)
}

// Loader reads source files
type Loader struct {
	sources   map[string]*extractor.SourceMapping
	evaluator *extractor.Evaluator
	logger    ectologger.Logger
	now       func() time.Time
}

// NewLoader creates a loader for the given source mappings
func NewLoader(sources map[string]*extractor.SourceMapping, logger ectologger.Logger) *Loader {
	return &Loader{
		sources:   sources,
		evaluator: extractor.NewEvaluator(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Input names one file and the source it came from
type Input struct {
	SourceID string
	Path     string
}

// ParseInput parses "source_id=path"
func ParseInput(arg string) (Input, error) {
	source, path, ok := strings.Cut(arg, "=")
	if !ok || source == "" || path == "" {
		return Input{}, fmt.Errorf("invalid input %q, expected source_id=path", arg)
	}
	return Input{SourceID: source, Path: path}, nil
}

// Load reads every input. Rows that fail mapping are returned as row errors; unreadable files
// and unknown sources fail the load.
func (l *Loader) Load(ctx context.Context, inputs []Input) ([]models.SourceRecord, []RowError, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Loader.Load")
	defer span.End()

	ingestedAt := l.now()
	var records []models.SourceRecord
	var rowErrors []RowError
	for _, in := range inputs {
		mapping, ok := l.sources[in.SourceID]
		if !ok {
			return nil, nil, &models.ConfigurationError{Problems: []string{fmt.Sprintf("no mapping for source %q", in.SourceID)}}
		}
		recs, errs, err := l.loadFile(ctx, in.Path, mapping, ingestedAt)
		if err != nil {
			return nil, nil, err
		}
		l.logger.WithContext(ctx).WithFields(map[string]any{
			"source_id": in.SourceID,
			"path":      in.Path,
			"records":   len(recs),
			"rejected":  len(errs),
		}).Info("Loaded source file")
		records = append(records, recs...)
		rowErrors = append(rowErrors, errs...)
	}
	return records, rowErrors, nil
}

func (l *Loader) loadFile(ctx context.Context, path string, mapping *extractor.SourceMapping, ingestedAt time.Time) ([]models.SourceRecord, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	format := mapping.Format
	if format == "" {
		format = formatOf(path)
	}

	var records []models.SourceRecord
	var rowErrors []RowError
	visit := func(line int, row map[string]any) {
		rec, err := mapping.Extract(l.evaluator, row)
		if err != nil {
			rowErrors = append(rowErrors, RowError{Path: path, Line: line, Err: err.Error()})
			return
		}
		rec.IngestedAt = ingestedAt
		records = append(records, rec)
	}

	switch format {
	case FormatCSV:
		err = ReadCSV(ctx, f, visit)
	case FormatJSONL:
		err = ReadJSONL(ctx, f, func(line int, row map[string]any, rowErr error) {
			if rowErr != nil {
				rowErrors = append(rowErrors, RowError{Path: path, Line: line, Err: rowErr.Error()})
				return
			}
			visit(line, row)
		})
	default:
		return nil, nil, fmt.Errorf("%s: unsupported format %q (use csv or jsonl)", path, format)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, rowErrors, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	}
	return ""
}

// ReadCSV calls visit for every data row, keyed by the header row. Line numbers are 1-based and
// count the header.
func ReadCSV(ctx context.Context, r io.Reader, visit func(line int, row map[string]any)) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(values) && values[i] != "" {
				row[name] = values[i]
			}
		}
		visit(line, row)
	}
}

// ReadJSONL calls visit for every non-blank line. A line that is not a JSON object is passed with
// its decode error.
func ReadJSONL(ctx context.Context, r io.Reader, visit func(line int, row map[string]any, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			visit(line, nil, fmt.Errorf("invalid json: %w", err))
			continue
		}
		visit(line, row, nil)
	}
	return scanner.Err()
}
