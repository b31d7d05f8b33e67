package service

import (
	"context"
	"testing"

	"hyperarb/internal/application/port"
	"hyperarb/internal/domain/model"
)

func TestShouldCloseOnMaxHold(t *testing.T) {
	m := NewPositionManager(PositionManagerConfig{MaxHoldMs: 1000, CloseThresholdBps: -5}, nil, nil, nil)
	pos := &model.HedgedPosition{Direction: model.PerpToSpot}

	triggered, reason := m.shouldClose(pos, 10, 1000)
	if !triggered || reason != "max_hold" {
		t.Errorf("shouldClose = %v, %q; want true, max_hold", triggered, reason)
	}
}

func TestShouldCloseOnEdgeDecay(t *testing.T) {
	m := NewPositionManager(PositionManagerConfig{MaxHoldMs: 1_000_000, CloseThresholdBps: 2}, nil, nil, nil)
	pos := &model.HedgedPosition{Direction: model.PerpToSpot}

	triggered, reason := m.shouldClose(pos, 3, 100)
	if !triggered || reason != "edge_decay" {
		t.Errorf("shouldClose = %v, %q; want true, edge_decay", triggered, reason)
	}
}

func TestShouldNotCloseWhileHealthy(t *testing.T) {
	m := NewPositionManager(PositionManagerConfig{MaxHoldMs: 1_000_000, CloseThresholdBps: 2}, nil, nil, nil)
	pos := &model.HedgedPosition{Direction: model.PerpToSpot}

	// The reverse edge is still strongly negative, as it typically is right
	// after opening in the forward direction — reversal hasn't happened yet.
	triggered, _ := m.shouldClose(pos, -5, 100)
	if triggered {
		t.Error("expected no close trigger while held time and edge are both healthy")
	}
}

func TestTrackAddsToOpenSet(t *testing.T) {
	m := NewPositionManager(PositionManagerConfig{}, nil, fakePositionRepo{}, nil)
	pos := &model.HedgedPosition{ID: "abc", Direction: model.SpotToPerp}

	if err := m.Track(context.Background(), pos); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if m.Open() != 1 {
		t.Errorf("Open() = %d, want 1", m.Open())
	}
	ids := m.OpenIDs()
	if len(ids) != 1 || ids[0] != "abc" {
		t.Errorf("OpenIDs() = %v, want [abc]", ids)
	}
}

type fakePositionRepo struct{}

func (fakePositionRepo) InsertPosition(ctx context.Context, p model.HedgedPosition) (string, error) {
	return p.ID, nil
}
func (fakePositionRepo) GetOpenPositions(ctx context.Context) ([]model.HedgedPosition, error) {
	return nil, nil
}
func (fakePositionRepo) ClosePosition(ctx context.Context, id string, c port.PositionClose) error {
	return nil
}

var _ port.PositionRepository = fakePositionRepo{}
