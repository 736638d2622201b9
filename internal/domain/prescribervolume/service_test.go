package prescribervolume

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockRepo struct {
	unique, total int
	countErr      error
	since         time.Time
	thresholds    map[uuid.UUID]*Thresholds
}

func newMockRepo() *mockRepo {
	return &mockRepo{thresholds: make(map[uuid.UUID]*Thresholds)}
}

func (m *mockRepo) ActionedCounts(_ context.Context, _ uuid.UUID, since time.Time) (int, int, error) {
	m.since = since
	return m.unique, m.total, m.countErr
}

func (m *mockRepo) GetThresholds(_ context.Context, id uuid.UUID) (*Thresholds, error) {
	return m.thresholds[id], nil
}

func (m *mockRepo) UpsertThresholds(_ context.Context, t *Thresholds) error {
	t.UpdatedAt = time.Now()
	m.thresholds[t.PrescriberID] = t
	return nil
}

func intPtr(i int) *int { return &i }

func newTestService(repo *mockRepo, defaults Thresholds) *Service {
	s := NewService(repo, defaults, 30, nil, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestStats_WarnWithoutBlock(t *testing.T) {
	repo := newMockRepo()
	repo.unique, repo.total = 26, 40
	svc := newTestService(repo, Thresholds{Warn: 25})

	st, err := svc.Stats(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.ShouldWarn || st.ShouldBlock {
		t.Errorf("expected warn only, got warn=%v block=%v", st.ShouldWarn, st.ShouldBlock)
	}
	if st.BlockThreshold != nil {
		t.Errorf("expected no block threshold, got %d", *st.BlockThreshold)
	}
	if st.TotalOppsActioned != 40 {
		t.Errorf("expected total 40, got %d", st.TotalOppsActioned)
	}
	wantSince := time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC)
	if !repo.since.Equal(wantSince) {
		t.Errorf("expected window start %v, got %v", wantSince, repo.since)
	}
}

func TestStats_OverrideBeatsDefaults(t *testing.T) {
	repo := newMockRepo()
	id := uuid.New()
	repo.thresholds[id] = &Thresholds{PrescriberID: id, Warn: 25, Block: intPtr(30)}
	repo.unique = 31
	svc := newTestService(repo, Thresholds{Warn: 100})

	st, err := svc.Stats(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.ShouldBlock {
		t.Error("expected block at 31 >= 30")
	}
	if st.WarnThreshold != 25 {
		t.Errorf("expected override warn 25, got %d", st.WarnThreshold)
	}
}

func TestEvaluate_BlockIsMonotonic(t *testing.T) {
	for n := 30; n < 60; n++ {
		st := &Stats{UniquePatientsActioned: n, WarnThreshold: 25, BlockThreshold: intPtr(30)}
		st.Evaluate()
		if !st.ShouldBlock {
			t.Fatalf("expected block at %d", n)
		}
	}
	st := &Stats{UniquePatientsActioned: 29, WarnThreshold: 25, BlockThreshold: intPtr(30)}
	st.Evaluate()
	if st.ShouldBlock || !st.ShouldWarn {
		t.Errorf("expected warn but no block at 29, got %+v", st)
	}
}

func TestEvaluate_ZeroWarnDisablesWarning(t *testing.T) {
	st := &Stats{UniquePatientsActioned: 500}
	st.Evaluate()
	if st.ShouldWarn || st.ShouldBlock {
		t.Errorf("expected no flags without thresholds, got %+v", st)
	}
}

func TestGuard(t *testing.T) {
	tests := []struct {
		name     string
		unique   int
		countErr error
		want     error
	}{
		{"under thresholds", 3, nil, nil},
		{"warn passes", 26, nil, nil},
		{"block refuses", 31, nil, ErrVolumeBlocked},
		{"stats failure fails closed", 0, fmt.Errorf("db down"), ErrStatsUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			repo.unique, repo.countErr = tt.unique, tt.countErr
			svc := newTestService(repo, Thresholds{Warn: 25, Block: intPtr(30)})

			err := svc.Guard(context.Background(), uuid.New())
			if tt.want == nil && err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSetThresholds_Validation(t *testing.T) {
	svc := newTestService(newMockRepo(), Thresholds{Warn: 25})
	ctx := context.Background()
	id := uuid.New()

	bad := []*Thresholds{
		{Warn: 10},
		{PrescriberID: id, Warn: -1},
		{PrescriberID: id, Warn: 10, Block: intPtr(0)},
		{PrescriberID: id, Warn: 10, Block: intPtr(5)},
	}
	for i, th := range bad {
		if err := svc.SetThresholds(ctx, th); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := svc.SetThresholds(ctx, &Thresholds{PrescriberID: id, Warn: 10, Block: intPtr(20)}); err != nil {
		t.Errorf("expected valid thresholds to save, got %v", err)
	}
}
