// Package ident provides a streaming reader for rescored identification tables
// (Kind, Sid, Peptide, Score and optional Charge columns)
package ident

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// Column names
const (
	ColKind    = "Kind"
	ColSid     = "Sid"
	ColPeptide = "Peptide"
	ColScore   = "Score"
	ColCharge  = "Charge"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column
	ErrMissingColumn = errors.New("missing required column")
	// ErrInvalidKind is returned for Kind values other than t and d
	ErrInvalidKind = errors.New("kind must be t or d")
)

// Record is one identification row
type Record struct {
	Label   core.Label
	Sid     int
	Charge  int // 0 when the table has no Charge column
	Peptide string
	Score   float64
}

// ParseKind converts a Kind column value
func ParseKind(s string) (core.Label, error) {
	switch strings.TrimSpace(s) {
	case "t":
		return core.Target, nil
	case "d":
		return core.Decoy, nil
	}
	return 0, fmt.Errorf("%w: got %q", ErrInvalidKind, s)
}

// Reader provides streaming access to identification tables
type Reader struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	index   map[string]int
	width   int
	lineNum int
	current *Record
	skipped int
	err     error
}

// NewReader creates a reader and parses the header line. charsetLabel may be
// empty for UTF-8 input.
func NewReader(r io.Reader, charsetLabel string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if charsetLabel != "" {
		decoded, err := charset.NewReaderLabel(charsetLabel, r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode input as %s: %w", charsetLabel, err)
		}
		r = decoded
	}

	rd := &Reader{
		scanner: bufio.NewScanner(r),
		logger:  logger,
		index:   make(map[string]int),
	}
	if err := rd.readHeader(); err != nil {
		return nil, err
	}
	return rd, nil
}

func (r *Reader) readHeader() error {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		for i, c := range strings.Split(line, "\t") {
			if c = strings.TrimSpace(c); c != "" {
				r.index[c] = i
				r.width = i + 1
			}
		}
		for _, name := range []string{ColKind, ColSid, ColScore} {
			if _, ok := r.index[name]; !ok {
				return fmt.Errorf("%w: %s", ErrMissingColumn, name)
			}
		}
		return nil
	}
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	return fmt.Errorf("%w: empty input", ErrMissingColumn)
}

// Next advances to the next record. Returns false when no more rows or on a fatal error.
func (r *Reader) Next() bool {
	r.current = nil

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		get := func(name string) (string, bool) {
			i, ok := r.index[name]
			if !ok || i >= len(fields) {
				return "", false
			}
			return strings.TrimSpace(fields[i]), true
		}

		kind, _ := get(ColKind)
		label, err := ParseKind(kind)
		if err != nil {
			r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
			return false
		}

		rec := &Record{Label: label}
		sid, _ := get(ColSid)
		if rec.Sid, err = strconv.Atoi(sid); err != nil {
			r.skip(ColSid, sid, err)
			continue
		}
		score, _ := get(ColScore)
		if rec.Score, err = strconv.ParseFloat(score, 64); err != nil {
			r.skip(ColScore, score, err)
			continue
		}
		if charge, ok := get(ColCharge); ok && charge != "" {
			if rec.Charge, err = strconv.Atoi(charge); err != nil {
				r.skip(ColCharge, charge, err)
				continue
			}
		}
		rec.Peptide, _ = get(ColPeptide)

		r.current = rec
		return true
	}

	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
	}
	return false
}

func (r *Reader) skip(column, value string, err error) {
	r.skipped++
	r.logger.Warn("skipping identification row",
		"line", r.lineNum, "column", column, "value", value, "error", err)
}

// Record returns the current record
func (r *Reader) Record() *Record {
	return r.current
}

// Skipped returns the number of rows skipped because of row-level errors
func (r *Reader) Skipped() int {
	return r.skipped
}

// Err returns any fatal error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

type recordKey struct {
	label  core.Label
	sid    int
	charge int
}

// ReadAll reads every record. A later row for the same kind, Sid and charge
// replaces an earlier one.
func ReadAll(r io.Reader, charsetLabel string, logger *slog.Logger) ([]Record, error) {
	rd, err := NewReader(r, charsetLabel, logger)
	if err != nil {
		return nil, err
	}

	var records []Record
	pos := make(map[recordKey]int)
	for rd.Next() {
		rec := *rd.Record()
		k := recordKey{label: rec.Label, sid: rec.Sid, charge: rec.Charge}
		if i, ok := pos[k]; ok {
			records[i] = rec
			continue
		}
		pos[k] = len(records)
		records = append(records, rec)
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadFile opens path and calls ReadAll
func ReadFile(path, charsetLabel string, logger *slog.Logger) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	records, err := ReadAll(f, charsetLabel, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Scores splits records into parallel score and label vectors
func Scores(records []Record) ([]float64, []core.Label) {
	scores := make([]float64, len(records))
	labels := make([]core.Label, len(records))
	for i, rec := range records {
		scores[i] = rec.Score
		labels[i] = rec.Label
	}
	return scores, labels
}
