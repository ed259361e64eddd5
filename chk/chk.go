// Package chk persists solver results into a sqlite checkpoint file.
// Datasets are named complex matrices keyed by (dataset, i, j).
package chk

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableDataset = "dataset"

	stmtTimeout = 3 * time.Second
)

// Store is a checkpoint file.
type Store struct {
	Path string

	db *sql.DB
}

// Open opens the checkpoint at path, creating it if needed. Existing
// datasets are kept.
func Open(path string) (*Store, error) {
	s := &Store{Path: path}
	var err error
	s.db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), stmtTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT, i INTEGER, j INTEGER, re REAL, im REAL, PRIMARY KEY (name, i, j)) STRICT`, tableDataset)
	if _, err := s.db.ExecContext(ctx, sqlStr); err != nil {
		s.db.Close()
		return nil, errors.Wrap(err, "")
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutMatrix replaces the dataset name with a rows x cols matrix given in
// row-major order.
func (s *Store) PutMatrix(name string, rows, cols int, data []complex64) error {
	if len(data) != rows*cols {
		return errors.Errorf("%d %d %d", len(data), rows, cols)
	}

	ctx, cancel := context.WithTimeout(context.Background(), stmtTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}

	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE name=?`, tableDataset)
	if _, err := tx.ExecContext(ctx, sqlStr, name); err != nil {
		tx.Rollback()
		return errors.Wrap(err, name)
	}
	sqlStr = fmt.Sprintf(`INSERT INTO %s (name, i, j, re, im) VALUES (?, ?, ?, ?, ?)`, tableDataset)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := data[i*cols+j]
			if _, err := tx.ExecContext(ctx, sqlStr, name, i, j, real(v), imag(v)); err != nil {
				tx.Rollback()
				return errors.Wrap(err, fmt.Sprintf("%s %d %d", name, i, j))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, name)
	}
	return nil
}

// PutVector replaces the dataset name with a single-row real vector.
func (s *Store) PutVector(name string, v []float64) error {
	data := make([]complex64, len(v))
	for i, x := range v {
		data[i] = complex(float32(x), 0)
	}
	return s.PutMatrix(name, 1, len(v), data)
}

// Matrix reads the dataset name. The shape is inferred from the largest
// stored indices.
func (s *Store) Matrix(name string) (int, int, []complex64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), stmtTimeout)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT i, j, re, im FROM %s WHERE name=? ORDER BY i, j`, tableDataset)
	rows, err := s.db.QueryContext(ctx, sqlStr, name)
	if err != nil {
		return 0, 0, nil, errors.Wrap(err, name)
	}
	defer rows.Close()

	type entry struct {
		i, j int
		v    complex64
	}
	entries := make([]entry, 0)
	var nrows, ncols int
	for rows.Next() {
		var i, j int
		var re, im float64
		if err := rows.Scan(&i, &j, &re, &im); err != nil {
			return 0, 0, nil, errors.Wrap(err, name)
		}
		entries = append(entries, entry{i: i, j: j, v: complex(float32(re), float32(im))})
		nrows = max(nrows, i+1)
		ncols = max(ncols, j+1)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, nil, errors.Wrap(err, name)
	}
	if len(entries) == 0 {
		return 0, 0, nil, errors.Errorf("no dataset %q", name)
	}

	data := make([]complex64, nrows*ncols)
	for _, e := range entries {
		data[e.i*ncols+e.j] = e.v
	}
	return nrows, ncols, data, nil
}

// Vector reads a dataset written by PutVector.
func (s *Store) Vector(name string) ([]float64, error) {
	rows, cols, data, err := s.Matrix(name)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if rows != 1 {
		return nil, errors.Errorf("%s %d %d", name, rows, cols)
	}
	v := make([]float64, cols)
	for i, x := range data {
		v[i] = float64(real(x))
	}
	return v, nil
}
