package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testListing(id string, price float64, observed time.Time) models.Listing {
	return models.Listing{
		Source:     "olx",
		ExternalID: id,
		URL:        "https://example.com/" + id,
		Title:      "Test Car",
		Make:       "Renault",
		Model:      "Clio",
		Year:       2016,
		Price:      price,
		Km:         120000,
		Region:     "Lisboa",
		ObservedAt: observed,
	}
}

func TestReplaceAndLoadListings(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	in := []models.Listing{
		testListing("a", 9000, now),
		testListing("b", 11000, now.Add(-time.Hour)),
	}
	if err := s.ReplaceListings(in); err != nil {
		t.Fatalf("ReplaceListings: %v", err)
	}
	got, err := s.LoadListings()
	if err != nil {
		t.Fatalf("LoadListings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d listings, want 2", len(got))
	}
	if got[0].ExternalID != "a" || got[0].Price != 9000 {
		t.Errorf("unexpected first listing: %+v", got[0])
	}
	if !got[0].ObservedAt.Equal(now) {
		t.Errorf("observedAt not round-tripped: got %v", got[0].ObservedAt)
	}
	if got[0].Make != "Renault" || got[0].Region != "Lisboa" {
		t.Errorf("optional fields not round-tripped: %+v", got[0])
	}
}

func TestReplaceListings_Rewrites(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()

	if err := s.ReplaceListings([]models.Listing{testListing("a", 9000, now)}); err != nil {
		t.Fatalf("ReplaceListings: %v", err)
	}
	if err := s.ReplaceListings([]models.Listing{testListing("b", 8000, now)}); err != nil {
		t.Fatalf("ReplaceListings: %v", err)
	}
	got, _ := s.LoadListings()
	if len(got) != 1 || got[0].ExternalID != "b" {
		t.Errorf("snapshot must be rewritten in full, got %d records", len(got))
	}
}

func TestReplaceListings_InvalidRollsBack(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	if err := s.ReplaceListings([]models.Listing{testListing("a", 9000, now)}); err != nil {
		t.Fatalf("ReplaceListings: %v", err)
	}

	bad := testListing("b", 0, now) // no usable price
	if err := s.ReplaceListings([]models.Listing{bad}); err == nil {
		t.Fatal("expected error persisting an invalid listing")
	}
	got, err := s.LoadListings()
	if err != nil {
		t.Fatalf("LoadListings after failed replace: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "a" {
		t.Errorf("previous snapshot must remain committed after a failed replace, got %d records", len(got))
	}
}

func TestListingsOptionalFieldsNull(t *testing.T) {
	s := newTestStorage(t)
	l := models.Listing{
		Source:     "olx",
		ExternalID: "bare",
		URL:        "https://example.com/bare",
		Price:      9000,
		ObservedAt: time.Now(),
	}
	if err := s.ReplaceListings([]models.Listing{l}); err != nil {
		t.Fatalf("ReplaceListings: %v", err)
	}
	got, err := s.LoadListings()
	if err != nil {
		t.Fatalf("LoadListings: %v", err)
	}
	if got[0].Make != "" || got[0].Year != 0 || got[0].Km != 0 || got[0].ImageURL != "" {
		t.Errorf("null optional columns must read back as zero values: %+v", got[0])
	}
}

func TestOpenOlderSchemaAddsColumns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "market.db")

	// Snapshot written before the fuel, transmission, and image_url columns
	// existed.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw database: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE listings (
		source      TEXT NOT NULL,
		ref         TEXT NOT NULL,
		external_id TEXT,
		url         TEXT,
		title       TEXT,
		make        TEXT,
		model       TEXT,
		year        INTEGER,
		price       REAL NOT NULL,
		km          REAL,
		region      TEXT,
		observed_at INTEGER NOT NULL,
		PRIMARY KEY (source, ref)
	)`); err != nil {
		t.Fatalf("create old-schema table: %v", err)
	}
	observed := time.Now()
	if _, err := db.Exec(`INSERT INTO listings
		(source, ref, external_id, url, title, make, price, observed_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		"olx", "a", "a", "https://example.com/a", "Test Car", "Renault",
		9000.0, observed.UnixNano()); err != nil {
		t.Fatalf("insert old-schema row: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw database: %v", err)
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen old-schema database: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.LoadListings()
	if err != nil {
		t.Fatalf("LoadListings: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d listings, want 1", len(got))
	}
	if got[0].ExternalID != "a" || got[0].Price != 9000 || got[0].Make != "Renault" {
		t.Errorf("pre-existing row not round-tripped: %+v", got[0])
	}
	if got[0].Fuel != "" || got[0].Transmission != "" || got[0].ImageURL != "" {
		t.Errorf("added columns must read back as zero values: %+v", got[0])
	}
	if !got[0].ObservedAt.Equal(observed) {
		t.Errorf("observedAt not round-tripped: got %v", got[0].ObservedAt)
	}
}

func TestSaveAndLoadStates(t *testing.T) {
	s := newTestStorage(t)
	key := models.Key{Source: "olx", Ref: "a"}
	states := map[models.Key]*models.State{
		key: {LastMarginPrice: 8500, LastDropPrice: 0, UpdatedAt: time.Now()},
	}
	if err := s.SaveStates(states); err != nil {
		t.Fatalf("SaveStates: %v", err)
	}
	got, err := s.LoadStates()
	if err != nil {
		t.Fatalf("LoadStates: %v", err)
	}
	st, ok := got[key]
	if !ok {
		t.Fatal("state not found after save")
	}
	if st.LastMarginPrice != 8500 || st.LastDropPrice != 0 {
		t.Errorf("state not round-tripped: %+v", st)
	}

	// Upsert keeps one row per key.
	states[key].LastDropPrice = 8200
	if err := s.SaveStates(states); err != nil {
		t.Fatalf("SaveStates upsert: %v", err)
	}
	got, _ = s.LoadStates()
	if len(got) != 1 || got[key].LastDropPrice != 8200 {
		t.Errorf("upsert failed: %+v", got)
	}
}

func TestRecordAlert(t *testing.T) {
	s := newTestStorage(t)
	c := models.Candidate{
		Kind:     models.KindMargin,
		Listing:  testListing("a", 8000, time.Now()),
		Baseline: 10000,
		DeltaPct: -0.2,
		DeltaAbs: 2000,
		Score:    0.2,
	}
	for i := 0; i < 3; i++ {
		if err := s.RecordAlert(c, time.Now()); err != nil {
			t.Fatalf("RecordAlert: %v", err)
		}
	}
	n, err := s.AlertCount()
	if err != nil {
		t.Fatalf("AlertCount: %v", err)
	}
	if n != 3 {
		t.Errorf("got %d audit rows, want 3", n)
	}
}
