package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cutline/internal/domain"
)

func item(id string, start, duration int) domain.Item {
	return domain.Item{ID: id, Kind: domain.MediaVideo, Start: start, Duration: duration}
}

func TestResolveOverlapsDoesNotMutateInput(t *testing.T) {
	others := []domain.Item{item("a", 10, 20)}
	out, changes := ResolveOverlaps(others, item("x", 0, 15), OverlapCascade)

	assert.Equal(t, 10, others[0].Start)
	require.Len(t, out, 1)
	assert.Equal(t, 15, out[0].Start)
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ItemChange{ItemID: "a", Before: domain.Span{Start: 10, Duration: 20}, After: domain.Span{Start: 15, Duration: 20}}, changes[0])
}

func TestResolveOverlapsEqualStart(t *testing.T) {
	others := []domain.Item{item("a", 10, 20)}

	shallow, _ := ResolveOverlaps(others, item("x", 10, 5), OverlapShallow)
	assert.Equal(t, 10, shallow[0].Start)
	assert.Equal(t, 1, shallow[0].Duration, "shallow clamps an equal-start neighbour to one frame")

	cascade, _ := ResolveOverlaps(others, item("x", 10, 5), OverlapCascade)
	assert.Equal(t, 15, cascade[0].Start)
	assert.Equal(t, 20, cascade[0].Duration)
}

func TestResolveOverlapsLeavesDisjointItems(t *testing.T) {
	others := []domain.Item{item("a", 0, 10), item("b", 40, 10)}
	out, changes := ResolveOverlaps(others, item("x", 10, 30), OverlapCascade)
	assert.Empty(t, changes)
	assert.Equal(t, others, out)
}

func TestParseOverlapPolicy(t *testing.T) {
	p, err := ParseOverlapPolicy("")
	require.NoError(t, err)
	assert.Equal(t, OverlapCascade, p)

	p, err = ParseOverlapPolicy(" Shallow ")
	require.NoError(t, err)
	assert.Equal(t, OverlapShallow, p)

	_, err = ParseOverlapPolicy("ripple")
	assert.Error(t, err)
}

func TestOpLogPurgeAndCap(t *testing.T) {
	l := NewOpLog(2)
	l.Record(domain.EditOperation{ID: "1", TrackID: "t1"})
	l.Record(domain.EditOperation{ID: "2", TrackID: "t2"})
	l.Record(domain.EditOperation{ID: "3", TrackID: "t1", Params: domain.OperationParams{NewTrackID: "t3"}})
	require.Equal(t, 2, l.UndoLen())
	assert.Equal(t, "2", l.Entries()[0].ID)

	l.Purge("t3")
	require.Equal(t, 1, l.UndoLen())
	assert.Equal(t, "2", l.Entries()[0].ID)
}

func TestOpLogPurgeDropsEntriesForRemovedItems(t *testing.T) {
	l := NewOpLog(10)
	l.Record(domain.EditOperation{ID: "1", TrackID: "a", ItemID: "x"})
	l.Record(domain.EditOperation{ID: "2", TrackID: "a", ItemID: "y", Params: domain.OperationParams{SecondItemID: "y2"}})
	l.Record(domain.EditOperation{ID: "3", TrackID: "a", ItemID: "z"})

	l.Purge("b", "x", "y2")
	require.Equal(t, 1, l.UndoLen())
	assert.Equal(t, "3", l.Entries()[0].ID)
}
