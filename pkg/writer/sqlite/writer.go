// Package sqlite provides SQLite database writing for rescoring runs
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisMcGann/psmrank/pkg/config"
	"github.com/ChrisMcGann/psmrank/pkg/core"
	"github.com/ChrisMcGann/psmrank/pkg/train"
)

// Date format for RunTable (RFC 3339)
const runDateFormat = time.RFC3339

// ErrLocked is returned when another process is writing the same database
var ErrLocked = errors.New("output database is locked by another run")

// Writer handles writing one rescoring run to a SQLite database file.
// Several runs may share a database; each is keyed by its run id.
type Writer struct {
	db         *sql.DB
	lock       *flock.Flock
	outputPath string
	runID      string
	started    time.Time
	iterStmt   *sql.Stmt
	foldStmt   *sql.Stmt
	closed     bool
}

// NewWriter opens (or creates) the database at outputPath, takes an exclusive
// lock next to it and records a new run for cfg.
func NewWriter(outputPath, input string, cfg config.Config) (*Writer, error) {
	lock := flock.New(outputPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot lock output database: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, outputPath)
	}

	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		lock:       lock,
		outputPath: outputPath,
		runID:      uuid.New().String(),
		started:    time.Now(),
	}

	fail := func(err error) (*Writer, error) {
		db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	if err := w.createTables(); err != nil {
		return fail(err)
	}
	if err := w.insertRun(input, cfg); err != nil {
		return fail(err)
	}
	if err := w.prepareStatements(); err != nil {
		return fail(err)
	}

	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS RunTable (
		RunId TEXT PRIMARY KEY,
		CreationDate TEXT,
		Input TEXT,
		Method TEXT,
		QThreshold DOUBLE,
		Pi0 DOUBLE,
		Seed INTEGER,
		MaxIters INTEGER,
		Config TEXT,
		Targets INTEGER,
		Decoys INTEGER,
		InitialTargets INTEGER,
		PreMergeTargets INTEGER,
		IdentifiedTargets INTEGER,
		Seconds DOUBLE
	);

	CREATE TABLE IF NOT EXISTS IterationTable (
		RunId TEXT REFERENCES RunTable(RunId),
		Iteration INTEGER,
		EstimatedTargets INTEGER,
		HeldOutTargets INTEGER,
		Seconds DOUBLE,
		PRIMARY KEY (RunId, Iteration)
	);

	CREATE TABLE IF NOT EXISTS FoldTable (
		RunId TEXT REFERENCES RunTable(RunId),
		Iteration INTEGER,
		Fold INTEGER,
		Targets INTEGER,
		Decoys INTEGER,
		ConfidentTargets INTEGER,
		ConfidentDecoys INTEGER,
		TrainSize INTEGER,
		FellBack BOOL,
		CPos DOUBLE,
		CNeg DOUBLE,
		ValidationTargets INTEGER,
		HeldOutTargets INTEGER,
		PRIMARY KEY (RunId, Iteration, Fold)
	);

	CREATE TABLE IF NOT EXISTS PsmTable (
		RunId TEXT REFERENCES RunTable(RunId),
		RowIndex INTEGER,
		SpecId TEXT,
		Kind TEXT,
		ScanNumber INTEGER,
		Charge INTEGER,
		Peptide TEXT,
		Proteins TEXT,
		Fold INTEGER,
		RawScore DOUBLE,
		Score DOUBLE,
		QValue DOUBLE,
		PRIMARY KEY (RunId, RowIndex)
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

func (w *Writer) insertRun(input string, cfg config.Config) error {
	cfgYAML, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = w.db.Exec(`
		INSERT INTO RunTable (RunId, CreationDate, Input, Method, QThreshold, Pi0, Seed, MaxIters, Config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.runID, w.started.Format(runDateFormat), input, string(cfg.Method), cfg.Q, cfg.Pi0, cfg.Seed, cfg.MaxIters, cfgYAML)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// prepareStatements prepares SQL statements for per-iteration insertion
func (w *Writer) prepareStatements() error {
	var err error

	w.iterStmt, err = w.db.Prepare(`
		INSERT INTO IterationTable (RunId, Iteration, EstimatedTargets, HeldOutTargets, Seconds)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare iteration statement: %w", err)
	}

	w.foldStmt, err = w.db.Prepare(`
		INSERT INTO FoldTable (
			RunId, Iteration, Fold, Targets, Decoys, ConfidentTargets,
			ConfidentDecoys, TrainSize, FellBack, CPos, CNeg,
			ValidationTargets, HeldOutTargets
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare fold statement: %w", err)
	}

	return nil
}

// RunID returns the id of the run being written
func (w *Writer) RunID() string {
	return w.runID
}

// WriteIteration writes one iteration and its per-fold statistics
func (w *Writer) WriteIteration(it train.Iteration) error {
	_, err := w.iterStmt.Exec(w.runID, it.Index, it.Estimated, it.HeldOut, it.Duration.Seconds())
	if err != nil {
		return fmt.Errorf("failed to insert iteration %d: %w", it.Index, err)
	}

	for _, fs := range it.Folds {
		_, err := w.foldStmt.Exec(
			w.runID,            // RunId
			it.Index,           // Iteration
			fs.Fold,            // Fold
			fs.Targets,         // Targets
			fs.Decoys,          // Decoys
			fs.Confident,       // ConfidentTargets
			fs.ConfidentDecoys, // ConfidentDecoys
			fs.TrainSize,       // TrainSize
			fs.FellBack,        // FellBack
			fs.Best.CPos,       // CPos
			fs.Best.CNeg,       // CNeg
			fs.Validation,      // ValidationTargets
			fs.HeldOut,         // HeldOutTargets
		)
		if err != nil {
			return fmt.Errorf("failed to insert fold %d of iteration %d: %w", fs.Fold, it.Index, err)
		}
	}
	return nil
}

// WritePSMs writes the final score and q-value of every dataset row in one transaction
func (w *Writer) WritePSMs(ds *core.Dataset, res *train.Result) error {
	if len(res.Scores) != ds.Len() || len(res.QValues) != ds.Len() {
		return fmt.Errorf("result has %d scores and %d q-values for %d rows",
			len(res.Scores), len(res.QValues), ds.Len())
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO PsmTable (
			RunId, RowIndex, SpecId, Kind, ScanNumber, Charge,
			Peptide, Proteins, Fold, RawScore, Score, QValue
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare psm statement: %w", err)
	}
	defer stmt.Close()

	var folds []int
	if res.Folds != nil {
		folds = res.Folds.Of()
	}
	for i := 0; i < ds.Len(); i++ {
		var f any
		if folds != nil {
			f = folds[i]
		}
		_, err := stmt.Exec(
			w.runID,                          // RunId
			i,                                // RowIndex
			ds.IDs[i],                        // SpecId
			ds.Labels[i].Kind(),              // Kind
			ds.Keys[i].Scan,                  // ScanNumber
			ds.Keys[i].Charge,                // Charge
			core.StripFlanks(ds.Peptides[i]), // Peptide
			ds.Proteins[i],                   // Proteins
			f,                                // Fold
			ds.Scores[i],                     // RawScore
			res.Scores[i],                    // Score
			res.QValues[i],                   // QValue
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert psm %s: %w", ds.IDs[i], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit psms: %w", err)
	}
	return nil
}

// Finalize records the run summary, closes the database and releases the lock.
// res may be nil for a run that did not finish.
func (w *Writer) Finalize(ds *core.Dataset, res *train.Result) error {
	if w.closed {
		return nil
	}

	var err error
	if ds != nil && res != nil {
		targets, decoys := ds.Counts()
		_, err = w.db.Exec(`
			UPDATE RunTable
			SET Targets = ?, Decoys = ?, InitialTargets = ?, PreMergeTargets = ?, IdentifiedTargets = ?, Seconds = ?
			WHERE RunId = ?
		`, targets, decoys, res.Initial, res.PreMerge, res.Identified, time.Since(w.started).Seconds(), w.runID)
		if err != nil {
			err = fmt.Errorf("failed to update run: %w", err)
		}
	}

	if cerr := w.close(); err == nil {
		err = cerr
	}
	return err
}

func (w *Writer) close() error {
	w.closed = true

	// Close prepared statements
	if w.iterStmt != nil {
		w.iterStmt.Close()
	}
	if w.foldStmt != nil {
		w.foldStmt.Close()
	}

	// Close database
	err := w.db.Close()
	if uerr := w.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// Close closes the database without a run summary
func (w *Writer) Close() error {
	return w.Finalize(nil, nil)
}
