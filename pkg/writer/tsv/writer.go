// Package tsv writes rescored PSMs as a tab-delimited table
package tsv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/psmrank/pkg/core"
)

// Options selects the optional columns
type Options struct {
	Charge bool // Write a Charge column after Sid
	QValue bool // Write a QValue column after Score
}

// Writer handles writing result rows
type Writer struct {
	out  *bufio.Writer
	file *os.File
	opts Options
	rows int
}

// NewWriter creates a writer on w and writes the header line
func NewWriter(w io.Writer, opts Options) (*Writer, error) {
	tw := &Writer{out: bufio.NewWriter(w), opts: opts}
	if err := tw.writeHeader(); err != nil {
		return nil, err
	}
	return tw, nil
}

// Create creates the output file at path. "-" writes to stdout.
func Create(path string, opts Options) (*Writer, error) {
	if path == "-" {
		return NewWriter(os.Stdout, opts)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	w, err := NewWriter(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

func (w *Writer) writeHeader() error {
	cols := []string{"Kind", "Sid"}
	if w.opts.Charge {
		cols = append(cols, "Charge")
	}
	cols = append(cols, "Peptide", "Score")
	if w.opts.QValue {
		cols = append(cols, "QValue")
	}
	if _, err := w.out.WriteString(strings.Join(cols, "\t") + "\n"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Write writes a single row. The peptide is written without flanking residues.
func (w *Writer) Write(label core.Label, key core.Key, peptide string, score, q float64) error {
	fields := make([]string, 0, 6)
	fields = append(fields, label.Kind(), strconv.Itoa(key.Scan))
	if w.opts.Charge {
		fields = append(fields, strconv.Itoa(key.Charge))
	}
	fields = append(fields, core.StripFlanks(peptide), formatFloat(score))
	if w.opts.QValue {
		fields = append(fields, formatFloat(q))
	}
	if _, err := w.out.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
		return fmt.Errorf("failed to write row %d: %w", w.rows, err)
	}
	w.rows++
	return nil
}

// WriteDataset writes one row per dataset row in dataset order.
// qvalues may be nil when the QValue column is not written.
func (w *Writer) WriteDataset(ds *core.Dataset, scores, qvalues []float64) error {
	if len(scores) != ds.Len() {
		return fmt.Errorf("got %d scores for %d rows", len(scores), ds.Len())
	}
	if w.opts.QValue && len(qvalues) != ds.Len() {
		return fmt.Errorf("got %d q-values for %d rows", len(qvalues), ds.Len())
	}
	for i := 0; i < ds.Len(); i++ {
		q := 0.0
		if qvalues != nil {
			q = qvalues[i]
		}
		if err := w.Write(ds.Labels[i], ds.Keys[i], ds.Peptides[i], scores[i], q); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns the number of rows written
func (w *Writer) Rows() int {
	return w.rows
}

// Close flushes buffered rows and closes the output file if Create opened it
func (w *Writer) Close() error {
	if err := w.out.Flush(); err != nil {
		if w.file != nil {
			w.file.Close()
		}
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close output file: %w", err)
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
