// Package pin provides a streaming reader for tab-delimited PIN feature tables
package pin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// Reserved column names
const (
	ColSpecID   = "SpecId"
	ColLabel    = "Label"
	ColScanNr   = "ScanNr"
	ColPeptide  = "Peptide"
	ColProteins = "Proteins"
	ColCalcMass = "CalcMass"
	ColExpMass  = "ExpMass"

	// ChargeFeature replaces the one-hot charge columns when they are collapsed
	ChargeFeature = "Charge"

	// defaultDirectionID marks the weight row some PIN writers emit after the header
	defaultDirectionID = "DefaultDirection"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column
	ErrMissingColumn = errors.New("missing required column")
	// ErrNoRows is returned when a file contains no usable PSM rows
	ErrNoRows = errors.New("no PSM rows")
)

var reserved = map[string]bool{
	ColSpecID:   true,
	ColLabel:    true,
	ColScanNr:   true,
	ColPeptide:  true,
	ColProteins: true,
	ColCalcMass: true,
	ColExpMass:  true,
}

// Options controls how a PIN file is interpreted
type Options struct {
	OneHotCharge bool   // Keep ChargeN columns as features, else a single Charge feature
	Charset      string // Input encoding label, empty for UTF-8
	Logger       *slog.Logger
}

// Header describes the columns of a PIN file
type Header struct {
	Columns       []string
	FeatureNames  []string
	ScoreColumn   string
	ChargeColumns []string

	width      int // fields up to the last named column
	index      map[string]int
	featureIdx []int // column index per feature, -1 for the derived Charge feature
	chargeIdx  []int
	chargeVal  []int
}

// Reader provides streaming access to PIN files
type Reader struct {
	scanner *bufio.Scanner
	opts    Options
	logger  *slog.Logger
	header  *Header
	lineNum int
	current *core.PSM
	skipped int
	err     error
}

// NewReader creates a PIN reader and parses the header line.
// Schema problems are returned here, before any row is read.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Charset != "" {
		decoded, err := charset.NewReaderLabel(opts.Charset, r)
		if err != nil {
			return nil, fmt.Errorf("failed to decode input as %s: %w", opts.Charset, err)
		}
		r = decoded
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	rd := &Reader{
		scanner: scanner,
		opts:    opts,
		logger:  logger,
	}
	if err := rd.readHeader(); err != nil {
		return nil, err
	}
	return rd, nil
}

// Header returns the parsed header
func (r *Reader) Header() *Header {
	return r.header
}

// Next advances to the next PSM. Returns false when no more rows or on a fatal error.
func (r *Reader) Next() bool {
	r.current = nil

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		psm, err := r.parseRow(strings.Split(line, "\t"))
		if err != nil {
			var rowErr *rowError
			if errors.As(err, &rowErr) {
				r.skipped++
				r.logger.Warn("skipping PSM row",
					"line", r.lineNum, "column", rowErr.column, "value", rowErr.value, "error", rowErr.err)
				continue
			}
			r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
			return false
		}
		if psm == nil {
			continue
		}
		r.current = psm
		return true
	}

	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
	}
	return false
}

// PSM returns the current PSM
func (r *Reader) PSM() *core.PSM {
	return r.current
}

// Line returns the line number of the current PSM
func (r *Reader) Line() int {
	return r.lineNum
}

// Skipped returns the number of rows skipped because of row-level errors
func (r *Reader) Skipped() int {
	return r.skipped
}

// Err returns any fatal error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// rowError is a problem confined to one row; the row is skipped
type rowError struct {
	column string
	value  string
	err    error
}

func (e *rowError) Error() string {
	return fmt.Sprintf("column %s value %q: %v", e.column, e.value, e.err)
}

// readHeader locates required columns, the score column, charge columns and features
func (r *Reader) readHeader() error {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		h, err := parseHeader(strings.Split(line, "\t"), r.opts.OneHotCharge)
		if err != nil {
			return err
		}
		r.header = h
		return nil
	}
	if err := r.scanner.Err(); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	return fmt.Errorf("%w: empty input", ErrNoRows)
}

func parseHeader(cols []string, oneHotCharge bool) (*Header, error) {
	h := &Header{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		h.Columns = append(h.Columns, c)
		h.width = i + 1
		if _, dup := h.index[c]; !dup {
			h.index[c] = i
		}
	}

	for _, name := range []string{ColSpecID, ColLabel, ColScanNr, ColPeptide, ColProteins} {
		if _, ok := h.index[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	for i, c := range cols {
		c = strings.TrimSpace(c)
		if n, ok := chargeColumn(c); ok {
			h.ChargeColumns = append(h.ChargeColumns, c)
			h.chargeIdx = append(h.chargeIdx, i)
			h.chargeVal = append(h.chargeVal, n)
		}
	}
	if len(h.ChargeColumns) == 0 {
		return nil, fmt.Errorf("%w: no Charge<N> columns", ErrMissingColumn)
	}

	for _, c := range h.Columns {
		if strings.EqualFold(c, "score") {
			h.ScoreColumn = c
			break
		}
	}
	if h.ScoreColumn == "" {
		for _, c := range h.Columns {
			if strings.EqualFold(c, "xcorr") {
				h.ScoreColumn = c
				break
			}
		}
	}
	if h.ScoreColumn == "" {
		return nil, fmt.Errorf("%w: score or xcorr", ErrMissingColumn)
	}

	if !oneHotCharge {
		h.FeatureNames = append(h.FeatureNames, ChargeFeature)
		h.featureIdx = append(h.featureIdx, -1)
	}
	seen := make(map[string]bool)
	for i, c := range cols {
		c = strings.TrimSpace(c)
		if c == "" || reserved[c] || seen[c] {
			continue
		}
		if _, isCharge := chargeColumn(c); isCharge && !oneHotCharge {
			continue
		}
		seen[c] = true
		h.FeatureNames = append(h.FeatureNames, c)
		h.featureIdx = append(h.featureIdx, i)
	}
	return h, nil
}

// chargeColumn reports whether name is a one-hot charge column such as Charge2
func chargeColumn(name string) (int, bool) {
	if len(name) <= len("charge") || !strings.EqualFold(name[:len("charge")], "charge") {
		return 0, false
	}
	n, err := strconv.Atoi(name[len("charge"):])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// parseRow converts one data row. It returns nil, nil for rows to ignore silently.
func (r *Reader) parseRow(fields []string) (*core.PSM, error) {
	h := r.header
	get := func(name string) string {
		i := h.index[name]
		if i >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[i])
	}

	id := get(ColSpecID)
	if id == defaultDirectionID {
		return nil, nil
	}
	if len(fields) < h.width {
		err := fmt.Errorf("row has %d fields, header has %d", len(fields), h.width)
		return nil, &rowError{column: "*", value: id, err: err}
	}

	label, err := core.ParseLabel(get(ColLabel))
	if err != nil {
		return nil, fmt.Errorf("PSM %s: %w", id, err)
	}

	scanStr := get(ColScanNr)
	scan, err := strconv.Atoi(scanStr)
	if err != nil {
		return nil, &rowError{column: ColScanNr, value: scanStr, err: err}
	}

	charge := 0
	for i, ci := range h.chargeIdx {
		v := strings.TrimSpace(fields[ci])
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &rowError{column: h.ChargeColumns[i], value: v, err: err}
		}
		if f != 0 {
			charge = h.chargeVal[i]
			break
		}
	}
	if charge == 0 {
		return nil, &rowError{column: "Charge", value: "", err: errors.New("no charge column set")}
	}

	scoreStr := get(h.ScoreColumn)
	score, err := strconv.ParseFloat(scoreStr, 64)
	if err == nil && (math.IsNaN(score) || math.IsInf(score, 0)) {
		err = errors.New("score must be finite")
	}
	if err != nil {
		return nil, &rowError{column: h.ScoreColumn, value: scoreStr, err: err}
	}

	features := make([]float64, len(h.FeatureNames))
	for j, ci := range h.featureIdx {
		if ci < 0 {
			features[j] = float64(charge)
			continue
		}
		v := strings.TrimSpace(fields[ci])
		if v == "" {
			features[j] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &rowError{column: h.FeatureNames[j], value: v, err: err}
		}
		features[j] = f
	}

	proteins := get(ColProteins)
	if len(fields) > h.width {
		extra := make([]string, 0, len(fields)-h.width)
		for _, f := range fields[h.width:] {
			if f = strings.TrimSpace(f); f != "" {
				extra = append(extra, f)
			}
		}
		if len(extra) > 0 {
			proteins = strings.Join(append([]string{proteins}, extra...), "\t")
		}
	}

	return &core.PSM{
		ID:       id,
		Key:      core.Key{Scan: scan, Charge: charge, Counter: specCounter(id)},
		Label:    label,
		Score:    score,
		Features: features,
		Peptide:  get(ColPeptide),
		Proteins: proteins,
	}, nil
}

// specCounter extracts the counter from SpecIds of the form prefix_counter_...
func specCounter(id string) int {
	parts := strings.Split(id, "_")
	if len(parts) < 2 {
		return 0
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return n
}

// Load reads all PSMs into a dataset, keeping the best-scoring PSM per
// label and (scan, charge).
func Load(r io.Reader, opts Options) (*core.Dataset, error) {
	pr, err := NewReader(r, opts)
	if err != nil {
		return nil, err
	}

	b := core.NewBuilder(pr.Header().FeatureNames)
	rows := 0
	for pr.Next() {
		rows++
		if _, err := b.Add(pr.PSM()); err != nil {
			return nil, fmt.Errorf("line %d: %w", pr.Line(), err)
		}
	}
	if err := pr.Err(); err != nil {
		return nil, err
	}

	ds := b.Dataset()
	if ds.Len() == 0 {
		return nil, ErrNoRows
	}
	pr.logger.Debug("loaded PIN rows",
		"rows", rows, "kept", ds.Len(), "skipped", pr.Skipped(), "features", ds.NumFeatures())
	return ds, nil
}

// LoadFile opens path and calls Load
func LoadFile(path string, opts Options) (*core.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	ds, err := Load(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}
