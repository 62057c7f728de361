package portfolio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFileStore_SaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	saved, err := fs.Save("p1", func(p Portfolio) (Portfolio, error) {
		p.Balance = decimal.NewFromInt(1000)
		p.Legs = append(p.Legs, LegPosition{Instrument: "BTC-PERP", Kind: "perpetual", Quantity: 1})
		return p, nil
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID != "p1" {
		t.Fatalf("saved.ID = %q, want p1", saved.ID)
	}

	loaded, err := fs.Load("p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("loaded.Balance = %v, want 1000", loaded.Balance)
	}
	if len(loaded.Legs) != 1 || loaded.Legs[0].Instrument != "BTC-PERP" {
		t.Fatalf("loaded.Legs = %+v, want one BTC-PERP leg", loaded.Legs)
	}
}

func TestFileStore_Save_WritesNoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := fs.Save("p1", func(p Portfolio) (Portfolio, error) { return p, nil }); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "p1.json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("expected p1.json.tmp to be renamed away, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "p1.json")); err != nil {
		t.Fatalf("expected p1.json to exist: %v", err)
	}
}

func TestFileStore_Save_UsesSaveArgumentAsIDOnFirstSave(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	saved, err := fs.Save("new-portfolio", func(p Portfolio) (Portfolio, error) { return p, nil })
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID != "new-portfolio" {
		t.Fatalf("saved.ID = %q, want new-portfolio (id keyed by the Save argument)", saved.ID)
	}
}

func TestFileStore_List_ReturnsSavedIDsOnly(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		if _, err := fs.Save(id, func(p Portfolio) (Portfolio, error) { return p, nil }); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "not-a-portfolio.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	ids, err := fs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("List() = %v, want exactly the two saved portfolio ids", ids)
	}
}

func TestFileStore_Load_MissingIDReturnsStorageIoError(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := fs.Load("missing"); err == nil {
		t.Fatal("expected error loading a portfolio that was never saved")
	}
}

func TestFileStore_Save_MutatorErrorLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	wantErr := os.ErrInvalid
	if _, err := fs.Save("p1", func(p Portfolio) (Portfolio, error) { return p, wantErr }); err != wantErr {
		t.Fatalf("Save() error = %v, want %v", err, wantErr)
	}
	if _, err := os.Stat(filepath.Join(dir, "p1.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no p1.json to be written when the mutator errors")
	}
}

func TestInMemoryStore_SaveThenLoad_RoundTrips(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Save("p1", func(p Portfolio) (Portfolio, error) {
		p.Balance = decimal.NewFromInt(500)
		return p, nil
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load("p1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !loaded.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("loaded.Balance = %v, want 500", loaded.Balance)
	}
}

func TestInMemoryStore_Load_MissingIDErrors(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Load("missing"); err == nil {
		t.Fatal("expected error loading an id that was never saved")
	}
}
