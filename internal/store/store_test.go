package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/lotteryd/internal/protocol"
)

func sampleBets(agency uint8, numbers ...string) []protocol.Bet {
	bets := make([]protocol.Bet, 0, len(numbers))
	for _, n := range numbers {
		bets = append(bets, protocol.Bet{
			Agency:    agency,
			FirstName: "juan",
			LastName:  "perez",
			Document:  "30904465",
			Birthdate: "1999-03-17",
			Number:    n,
		})
	}
	return bets
}

func TestFileStoreAppendScanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bets.csv")
	st := NewFileStore(path)

	if err := st.Append(sampleBets(1, "7574", "2201")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Append(sampleBets(2, "9999")); err != nil {
		t.Fatalf("append: %v", err)
	}

	bets, err := st.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bets) != 3 {
		t.Fatalf("expected 3 bets, got %d", len(bets))
	}
	if bets[0].Agency != 1 || bets[0].Number != "7574" {
		t.Fatalf("first record mismatch: %+v", bets[0])
	}
	if bets[2].Agency != 2 || bets[2].Number != "9999" {
		t.Fatalf("last record mismatch: %+v", bets[2])
	}
}

func TestFileStoreScanMissingFileIsEmpty(t *testing.T) {
	st := NewFileStore(filepath.Join(t.TempDir(), "absent.csv"))
	bets, err := st.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(bets) != 0 {
		t.Fatalf("expected empty store, got %d bets", len(bets))
	}
}

func TestFileStoreEmptyAppendTouchesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bets.csv")
	st := NewFileStore(path)
	if err := st.Append(nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty append must not create the file, stat err=%v", err)
	}
}

func TestFileStoreMalformedRowFailsScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bets.csv")
	if err := os.WriteFile(path, []byte("1,juan,perez\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := NewFileStore(path).ScanAll(); err == nil {
		t.Fatalf("expected scan error for short row")
	}
}

func TestMemStoreScanReturnsCopy(t *testing.T) {
	st := NewMemStore()
	if err := st.Append(sampleBets(1, "7574")); err != nil {
		t.Fatalf("append: %v", err)
	}
	first, err := st.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	first[0].Number = "mutated"
	second, err := st.ScanAll()
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if second[0].Number != "7574" {
		t.Fatalf("scan must return a snapshot, got %+v", second[0])
	}
}
