package usecase

import (
	"errors"
	"testing"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

type memCalibrationStore struct {
	adjustments map[string]domain.CalibrationAdjustment
	failAll     bool
}

func newMemCalibrationStore() *memCalibrationStore {
	return &memCalibrationStore{adjustments: make(map[string]domain.CalibrationAdjustment)}
}

func (s *memCalibrationStore) All() ([]domain.CalibrationAdjustment, error) {
	if s.failAll {
		return nil, errors.New("store down")
	}
	out := make([]domain.CalibrationAdjustment, 0, len(s.adjustments))
	for _, a := range s.adjustments {
		out = append(out, a)
	}
	return out, nil
}

func (s *memCalibrationStore) Get(signalKey, targetID string) (*domain.CalibrationAdjustment, error) {
	a, ok := s.adjustments[signalKey+":"+targetID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memCalibrationStore) Put(adj domain.CalibrationAdjustment) error {
	s.adjustments[adj.CalibrationKey()] = adj
	return nil
}

func testCalibrator(store domain.CalibrationStore) *Calibrator {
	return NewCalibrator(config.CalibrationConfig{
		MaxDelta:    15,
		FeedbackInc: 2,
		DecayFactor: 0.5,
		DecaySpec:   "@hourly",
	}, store, discardLogger())
}

func TestRecordAcceptedIncrementsDelta(t *testing.T) {
	store := newMemCalibrationStore()
	c := testCalibrator(store)

	fb := Feedback{TargetID: "backend-dev", SignalKey: domain.SignalKeyword, Accepted: true}
	if err := c.Record(fb); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := c.Record(fb); err != nil {
		t.Fatalf("Record: %v", err)
	}

	adj, _ := store.Get("keyword", "backend-dev")
	if adj == nil {
		t.Fatal("adjustment not stored")
	}
	if adj.Delta != 4 {
		t.Errorf("delta = %d, want 4 after two accepted verdicts", adj.Delta)
	}
	if adj.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2", adj.SampleCount)
	}
}

func TestRecordRejectedDecrementsDelta(t *testing.T) {
	store := newMemCalibrationStore()
	c := testCalibrator(store)

	if err := c.Record(Feedback{TargetID: "backend-dev", SignalKey: domain.SignalKeyword, Accepted: false}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	adj, _ := store.Get("keyword", "backend-dev")
	if adj.Delta != -2 {
		t.Errorf("delta = %d, want -2", adj.Delta)
	}
}

func TestRecordClampsDelta(t *testing.T) {
	store := newMemCalibrationStore()
	c := testCalibrator(store)

	fb := Feedback{TargetID: "backend-dev", SignalKey: domain.SignalKeyword, Accepted: true}
	for i := 0; i < 20; i++ {
		if err := c.Record(fb); err != nil {
			t.Fatalf("Record #%d: %v", i+1, err)
		}
	}
	adj, _ := store.Get("keyword", "backend-dev")
	if adj.Delta != 15 {
		t.Errorf("delta = %d, want clamp at 15", adj.Delta)
	}
}

func TestRecordRejectsMissingFields(t *testing.T) {
	c := testCalibrator(newMemCalibrationStore())
	if err := c.Record(Feedback{TargetID: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDecayShrinksTowardZero(t *testing.T) {
	store := newMemCalibrationStore()
	c := testCalibrator(store)

	store.Put(domain.CalibrationAdjustment{SignalKey: "keyword", TargetID: "a", Delta: 10})
	store.Put(domain.CalibrationAdjustment{SignalKey: "keyword", TargetID: "b", Delta: -9})
	store.Put(domain.CalibrationAdjustment{SignalKey: "keyword", TargetID: "c", Delta: 1})

	c.Decay()

	wantDeltas := map[string]int{"keyword:a": 5, "keyword:b": -4, "keyword:c": 0}
	for key, want := range wantDeltas {
		if got := store.adjustments[key].Delta; got != want {
			t.Errorf("%s delta = %d, want %d", key, got, want)
		}
	}
}

func TestAdjustmentsDegradeOnStoreFailure(t *testing.T) {
	store := newMemCalibrationStore()
	store.failAll = true
	c := testCalibrator(store)

	if got := c.Adjustments(); got != nil {
		t.Errorf("Adjustments on failing store = %v, want nil", got)
	}
}
