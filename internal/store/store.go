// Package store persists bet records. Callers are expected to serialize
// Append against ScanAll themselves; the coordinator owns that lock.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"github.com/danmuck/lotteryd/internal/protocol"
)

// Store is an append-only sequence of bets. Append is atomic: either the
// whole batch lands or none of it does.
type Store interface {
	Append(bets []protocol.Bet) error
	ScanAll() ([]protocol.Bet, error)
}

const recordColumns = 6

// FileStore keeps bets in a CSV file, one record per line:
// agency,first_name,last_name,national_id,birth_date,number.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Append(bets []protocol.Bet) error {
	if len(bets) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(bets))
	for _, b := range bets {
		rows = append(rows, []string{
			strconv.Itoa(int(b.Agency)),
			b.FirstName,
			b.LastName,
			b.Document,
			b.Birthdate,
			b.Number,
		})
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", s.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("store: append to %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) ScanAll() ([]protocol.Bet, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: open %s: %w", s.path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", s.path, err)
	}
	bets := make([]protocol.Bet, 0, len(rows))
	for i, row := range rows {
		if len(row) != recordColumns {
			return nil, fmt.Errorf("store: %s record %d has %d columns, want %d",
				s.path, i, len(row), recordColumns)
		}
		agency, err := strconv.ParseUint(row[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("store: %s record %d agency: %w", s.path, i, err)
		}
		bets = append(bets, protocol.Bet{
			Agency:    uint8(agency),
			FirstName: row[1],
			LastName:  row[2],
			Document:  row[3],
			Birthdate: row[4],
			Number:    row[5],
		})
	}
	return bets, nil
}

// MemStore is an in-memory store for tests and non-persistent runs.
type MemStore struct {
	mu   sync.Mutex
	bets []protocol.Bet
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(bets []protocol.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets = append(s.bets, bets...)
	return nil
}

func (s *MemStore) ScanAll() ([]protocol.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Bet, len(s.bets))
	copy(out, s.bets)
	return out, nil
}
