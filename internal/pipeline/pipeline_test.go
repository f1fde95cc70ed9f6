package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sagarzx/Car-Market-Alert/internal/alert"
	"github.com/Sagarzx/Car-Market-Alert/internal/market"
	"github.com/Sagarzx/Car-Market-Alert/internal/models"
	"github.com/Sagarzx/Car-Market-Alert/internal/scrape"
)

type fakeStore struct {
	listings    []models.Listing
	states      map[models.Key]*models.State
	alerts      []models.Candidate
	replaceErr  error
	replaced    int
	savedStates int
}

func (f *fakeStore) LoadListings() ([]models.Listing, error) { return f.listings, nil }
func (f *fakeStore) ReplaceListings(l []models.Listing) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.listings = l
	f.replaced++
	return nil
}
func (f *fakeStore) LoadStates() (map[models.Key]*models.State, error) {
	if f.states == nil {
		f.states = make(map[models.Key]*models.State)
	}
	return f.states, nil
}
func (f *fakeStore) SaveStates(s map[models.Key]*models.State) error {
	f.states = s
	f.savedStates++
	return nil
}
func (f *fakeStore) RecordAlert(c models.Candidate, _ time.Time) error {
	f.alerts = append(f.alerts, c)
	return nil
}

type fakeAdapter struct {
	name     string
	listings []models.Listing
	err      error
}

func (f fakeAdapter) Name() string { return f.name }
func (f fakeAdapter) Fetch(context.Context) ([]models.Listing, error) {
	return f.listings, f.err
}

type fakeNotifier struct {
	sent []models.Candidate
	err  error
}

func (f *fakeNotifier) Notify(c models.Candidate) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, c)
	return nil
}

type noRefs struct{}

func (noRefs) For(_ []models.Listing, _ models.Listing) *models.Reference { return nil }

func testRunner(store Store, adapters []scrape.Adapter, notifier Notifier) *Runner {
	return New(Config{
		Alert: alert.Config{
			Margin:           0.15,
			DropThresholdPct: 0.05,
			DropThresholdAbs: 250,
		},
		Limits: market.Limits{MinPrice: 1000, MaxPrice: 50000, MaxKm: 300000},
	}, store, noRefs{}, adapters, notifier)
}

func fetched(id string, price float64) models.Listing {
	return models.Listing{
		Source:     "olx",
		ExternalID: id,
		URL:        "https://example.com/" + id,
		Title:      "Car " + id,
		Price:      price,
		ObservedAt: time.Now(),
	}
}

func TestRun_SourceFailureIsolated(t *testing.T) {
	store := &fakeStore{}
	healthy := fakeAdapter{name: "olx", listings: []models.Listing{fetched("a", 9000)}}
	broken := fakeAdapter{name: "standvirtual", err: errors.New("boom")}
	notifier := &fakeNotifier{}

	sum, err := testRunner(store, []scrape.Adapter{healthy, broken}, notifier).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SourcesReached != 1 || sum.SourcesFailed != 1 {
		t.Errorf("got %d reached / %d failed, want 1/1", sum.SourcesReached, sum.SourcesFailed)
	}
	if len(store.listings) != 1 {
		t.Errorf("healthy source's listings must still be merged, got %d", len(store.listings))
	}
	if sum.Candidates != 0 {
		t.Errorf("got %d candidates, want 0 with new-listing notices disabled", sum.Candidates)
	}
}

func TestRun_NoSources(t *testing.T) {
	existing := []models.Listing{fetched("old", 9000)}
	store := &fakeStore{listings: existing}
	broken := fakeAdapter{name: "olx", err: errors.New("down")}

	sum, err := testRunner(store, []scrape.Adapter{broken}, &fakeNotifier{}).Run(context.Background())
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("got err %v, want ErrNoSources", err)
	}
	if sum.SourcesReached != 0 {
		t.Errorf("got %d reached, want 0", sum.SourcesReached)
	}
	if store.replaced != 1 || len(store.listings) != 1 {
		t.Errorf("store must be persisted unchanged: replaced=%d len=%d", store.replaced, len(store.listings))
	}
	if store.savedStates != 0 {
		t.Error("no alert state may be written when the cycle could not run")
	}
}

func TestRun_PersistFailureAbortsBeforeAlerting(t *testing.T) {
	store := &fakeStore{
		listings:   []models.Listing{fetched("a", 10000)},
		replaceErr: errors.New("disk full"),
	}
	adapter := fakeAdapter{name: "olx", listings: []models.Listing{fetched("a", 9000)}}
	notifier := &fakeNotifier{}

	_, err := testRunner(store, []scrape.Adapter{adapter}, notifier).Run(context.Background())
	if err == nil {
		t.Fatal("expected error from failed persistence")
	}
	if len(notifier.sent) != 0 {
		t.Error("alerts must never fire on an un-persisted snapshot")
	}
	if store.savedStates != 0 {
		t.Error("alert state must not be saved when the snapshot failed to persist")
	}
}

func TestRun_DropAlertNotifiedAndRecorded(t *testing.T) {
	store := &fakeStore{listings: []models.Listing{fetched("a", 10000)}}
	adapter := fakeAdapter{name: "olx", listings: []models.Listing{fetched("a", 9000)}}
	notifier := &fakeNotifier{}

	sum, err := testRunner(store, []scrape.Adapter{adapter}, notifier).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Candidates != 1 || sum.Notified != 1 {
		t.Fatalf("got %d candidates / %d notified, want 1/1", sum.Candidates, sum.Notified)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Kind != models.KindDrop {
		t.Fatalf("expected one drop notification, got %+v", notifier.sent)
	}
	if len(store.alerts) != 1 {
		t.Errorf("fired alert must be recorded in the audit log")
	}
	if store.savedStates != 1 {
		t.Errorf("alert state must be persisted at end of cycle")
	}
	key := models.Key{Source: "olx", Ref: "a"}
	if st := store.states[key]; st == nil || st.LastDropPrice != 9000 {
		t.Errorf("tracked drop price not persisted: %+v", store.states[key])
	}
}

func TestRun_NotificationFailureIsolated(t *testing.T) {
	store := &fakeStore{listings: []models.Listing{fetched("a", 10000), fetched("b", 10000)}}
	adapter := fakeAdapter{name: "olx", listings: []models.Listing{fetched("a", 9000), fetched("b", 9000)}}
	notifier := &fakeNotifier{err: errors.New("telegram down")}

	sum, err := testRunner(store, []scrape.Adapter{adapter}, notifier).Run(context.Background())
	if err != nil {
		t.Fatalf("a notification failure must not fail the cycle: %v", err)
	}
	if sum.Candidates != 2 || sum.Notified != 0 {
		t.Errorf("got %d candidates / %d notified, want 2/0", sum.Candidates, sum.Notified)
	}
	if store.savedStates != 1 {
		t.Error("alert state must still be persisted after notification failures")
	}
}

func TestRun_RejectsInvalidRecords(t *testing.T) {
	store := &fakeStore{}
	bad := models.Listing{Source: "olx", ObservedAt: time.Now()} // no key, no price
	adapter := fakeAdapter{name: "olx", listings: []models.Listing{bad, fetched("a", 9000)}}

	sum, err := testRunner(store, []scrape.Adapter{adapter}, &fakeNotifier{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Rejected != 1 {
		t.Errorf("got %d rejected, want 1", sum.Rejected)
	}
	if len(store.listings) != 1 {
		t.Errorf("invalid records must not enter the store, got %d", len(store.listings))
	}
}
