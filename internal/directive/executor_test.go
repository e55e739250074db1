package directive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cutline/internal/directive"
	"cutline/internal/domain"
	"cutline/internal/engine"
)

type assetTable map[string]domain.GeneratedAsset

func (a assetTable) Asset(id string) (domain.GeneratedAsset, bool) {
	asset, ok := a[id]
	return asset, ok
}

type testEnv struct {
	Engine   *engine.Engine
	Executor *directive.Executor
	Assets   assetTable
	Main     domain.Track
	Ctx      context.Context
}

func newTestEnv(t *testing.T, handlers map[domain.DirectiveKind]directive.Handler) testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := engine.New(engine.Options{FrameRate: 30, Clock: clock})
	main := eng.CreateTrack("Main", domain.TrackVideo)
	assets := assetTable{}
	x := directive.NewExecutor(eng, assets, directive.Options{Clock: clock, Handlers: handlers})
	return testEnv{Engine: eng, Executor: x, Assets: assets, Main: main, Ctx: context.Background()}
}

func f(v float64) *float64 { return &v }

func textDirective(id string, priority int) domain.Directive {
	return domain.Directive{ID: id, Kind: domain.DirectiveAddText, Priority: priority, Params: domain.DirectiveParams{Text: id}}
}

func TestQueueOrdersByPriorityStably(t *testing.T) {
	var q directive.Queue
	q.Push(
		domain.Directive{ID: "a", Priority: 3},
		domain.Directive{ID: "b", Priority: 1},
		domain.Directive{ID: "c", Priority: 2},
		domain.Directive{ID: "d", Priority: 1},
	)
	assert.Equal(t, []string{"b", "d", "c", "a"}, q.IDs())

	head, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", head.ID)
	assert.Equal(t, 3, q.Len())
}

func TestExecuteInPriorityOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Executor.Submit("director-1", []domain.Directive{
		textDirective("p3", 3),
		textDirective("p1", 1),
		textDirective("p2", 2),
	})
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		res := env.Executor.ExecuteNext(env.Ctx)
		require.True(t, res.Success, res.Message)
		order = append(order, res.DirectiveID)
	}
	assert.Equal(t, []string{"p1", "p2", "p3"}, order)
}

func TestStatusAccounting(t *testing.T) {
	env := newTestEnv(t, nil)
	st := env.Executor.Status("s-1", nil)
	assert.Equal(t, domain.StateIdle, st.State)
	assert.NotNil(t, st.GeneratedAssets)

	_, err := env.Executor.Submit("director-1", []domain.Directive{
		textDirective("one", 0), textDirective("two", 0), textDirective("three", 0),
	})
	require.NoError(t, err)

	require.True(t, env.Executor.ExecuteNext(env.Ctx).Success)
	st = env.Executor.Status("s-1", nil)
	assert.Equal(t, 1, st.CurrentStep)
	assert.Equal(t, 3, st.TotalSteps)
	assert.Equal(t, domain.StateProcessing, st.State)
	assert.Equal(t, []string{"two", "three"}, st.PendingDirectives)

	env.Executor.ExecuteNext(env.Ctx)
	env.Executor.ExecuteNext(env.Ctx)
	st = env.Executor.Status("s-1", nil)
	assert.Equal(t, 3, st.CurrentStep)
	assert.Equal(t, 3, st.TotalSteps)
	assert.Equal(t, domain.StateCompleted, st.State)
	assert.Equal(t, []string{"one", "two", "three"}, st.CompletedDirectives)
	assert.Empty(t, st.PendingDirectives)
}

func TestExecuteNextOnEmptyQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.Executor.ExecuteNext(env.Ctx)
	assert.False(t, res.Success)
	assert.Equal(t, "No pending directives", res.Message)
	assert.ErrorIs(t, res.Err, directive.ErrNoPendingDirectives)
	assert.Equal(t, domain.StateIdle, env.Executor.Status("s", nil).State)
}

func TestSubmitRejectsInvalidBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Executor.Submit("director-1", []domain.Directive{
		textDirective("ok", 0),
		{Kind: "explode"},
	})
	assert.ErrorIs(t, err, directive.ErrInvalidDirective)
	assert.Empty(t, env.Executor.Pending())

	_, err = env.Executor.Submit("director-1", []domain.Directive{{Kind: domain.DirectiveAddText}})
	assert.ErrorIs(t, err, directive.ErrInvalidDirective)
}

func TestSubmitAssignsIDs(t *testing.T) {
	env := newTestEnv(t, nil)
	accepted, err := env.Executor.Submit("director-1", []domain.Directive{
		{Kind: domain.DirectiveAddText, Params: domain.DirectiveParams{Text: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.NotEmpty(t, accepted[0].ID)
	assert.Equal(t, "director-1", accepted[0].SubmittedBy)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), accepted[0].SubmittedAt)
}

func TestAddTextCreatesOverlayTrack(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Executor.Submit("director-1", []domain.Directive{{
		Kind:   domain.DirectiveAddText,
		Params: domain.DirectiveParams{Text: "Hello", StartTime: f(1), EndTime: f(2.5)},
	}})
	require.NoError(t, err)
	require.True(t, env.Executor.ExecuteNext(env.Ctx).Success)

	track, ok := env.Engine.FindTrack(domain.TrackSubtitle, "text overlays")
	require.True(t, ok)
	require.Len(t, track.Items, 1)
	it := track.Items[0]
	assert.Equal(t, domain.MediaText, it.Kind)
	assert.Equal(t, "Hello", it.Source)
	assert.Equal(t, 30, it.Start)
	assert.Equal(t, 45, it.Duration)
	assert.Equal(t, 1920.0, it.Placement.Width)

	_, err = env.Executor.Submit("director-1", []domain.Directive{textDirective("again", 0)})
	require.NoError(t, err)
	require.True(t, env.Executor.ExecuteNext(env.Ctx).Success)
	var subtitleTracks int
	for _, tr := range env.Engine.Tracks() {
		if tr.Kind == domain.TrackSubtitle {
			subtitleTracks++
		}
	}
	assert.Equal(t, 1, subtitleTracks)
}

func TestAddBGMUsesAssetDuration(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Assets["song"] = domain.GeneratedAsset{ID: "song", Kind: domain.AssetBGM, URL: "https://cdn.example/song.mp3", Metadata: domain.AssetMetadata{Duration: 12}}
	_, err := env.Executor.Submit("director-1", []domain.Directive{{
		Kind:   domain.DirectiveAddBGM,
		Params: domain.DirectiveParams{AssetID: "song", Volume: f(0.3)},
	}})
	require.NoError(t, err)
	res := env.Executor.ExecuteNext(env.Ctx)
	require.True(t, res.Success, res.Message)

	track, ok := env.Engine.FindTrack(domain.TrackAudio, "Music")
	require.True(t, ok)
	require.Len(t, track.Items, 1)
	assert.Equal(t, "https://cdn.example/song.mp3", track.Items[0].Source)
	assert.Equal(t, 360, track.Items[0].Duration)
	require.NotNil(t, track.Volume)
	assert.Equal(t, 0.3, *track.Volume)
}

func TestAddBGMFailsFastOnMissingAsset(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Executor.Submit("director-1", []domain.Directive{
		{ID: "bgm", Kind: domain.DirectiveAddBGM, Params: domain.DirectiveParams{AssetID: "missing"}},
		textDirective("after", 1),
	})
	require.NoError(t, err)

	res := env.Executor.ExecuteNext(env.Ctx)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, directive.ErrAssetNotFound)

	st := env.Executor.Status("s", nil)
	assert.Equal(t, domain.StateProcessing, st.State)
	assert.Equal(t, 0, st.CurrentStep)
	assert.Equal(t, 1, st.TotalSteps)
	require.Len(t, st.FailedDirectives, 1)
	assert.Equal(t, "bgm", st.FailedDirectives[0].ID)

	require.True(t, env.Executor.ExecuteNext(env.Ctx).Success)
	assert.Equal(t, domain.StateCompleted, env.Executor.Status("s", nil).State)
}

func TestFailedLastDirectiveReportsError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Assets["voice"] = domain.GeneratedAsset{ID: "voice", Kind: domain.AssetTTS}
	_, err := env.Executor.Submit("director-1", []domain.Directive{
		{Kind: domain.DirectiveAddBGM, Params: domain.DirectiveParams{AssetID: "voice"}},
	})
	require.NoError(t, err)
	res := env.Executor.ExecuteNext(env.Ctx)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, directive.ErrInvalidDirective)
	assert.Equal(t, domain.StateError, env.Executor.Status("s", nil).State)
}

func TestUnimplementedKindIsReportedAsFailure(t *testing.T) {
	env := newTestEnv(t, map[domain.DirectiveKind]directive.Handler{domain.DirectiveAddTransition: nil})
	_, err := env.Executor.Submit("director-1", []domain.Directive{
		{Kind: domain.DirectiveAddTransition, Params: domain.DirectiveParams{StartTime: f(2)}},
	})
	require.NoError(t, err)
	res := env.Executor.ExecuteNext(env.Ctx)
	assert.False(t, res.Success)
	assert.True(t, directive.IsUnimplemented(res.Err))
}

func TestCustomHandlerOverridesBuiltin(t *testing.T) {
	var seen []string
	env := newTestEnv(t, map[domain.DirectiveKind]directive.Handler{
		domain.DirectiveAddText: func(_ context.Context, d domain.Directive) error {
			seen = append(seen, d.ID)
			if d.ID == "bad" {
				return errors.New("renderer offline")
			}
			return nil
		},
	})
	_, err := env.Executor.Submit("director-1", []domain.Directive{textDirective("good", 0), textDirective("bad", 1)})
	require.NoError(t, err)
	assert.True(t, env.Executor.ExecuteNext(env.Ctx).Success)
	res := env.Executor.ExecuteNext(env.Ctx)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "renderer offline")
	assert.Equal(t, []string{"good", "bad"}, seen)
}

func TestAddTransitionCentresOnCut(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Executor.Submit("director-1", []domain.Directive{{
		Kind:   domain.DirectiveAddTransition,
		Params: domain.DirectiveParams{StartTime: f(5), Transition: "wipe"},
	}})
	require.NoError(t, err)
	require.True(t, env.Executor.ExecuteNext(env.Ctx).Success)

	track, ok := env.Engine.FindTrack(domain.TrackVideo, "Transitions")
	require.True(t, ok)
	require.Len(t, track.Items, 1)
	assert.Equal(t, "transition:wipe", track.Items[0].Source)
	assert.Equal(t, 135, track.Items[0].Start)
	assert.Equal(t, 30, track.Items[0].Duration)
}

func TestApplyEffectOnRange(t *testing.T) {
	env := newTestEnv(t, nil)
	for i, id := range []string{"a", "b", "c"} {
		_, err := env.Engine.AddItem(env.Main.ID, domain.Item{ID: id, Kind: domain.MediaVideo, Start: i * 30, Duration: 30}, nil)
		require.NoError(t, err)
	}
	_, err := env.Executor.Submit("director-1", []domain.Directive{{
		Kind: domain.DirectiveApplyEffect,
		Params: domain.DirectiveParams{
			StartTime: f(1.5),
			EndTime:   f(2),
			Effect:    &domain.Effect{Opacity: f(0.5)},
		},
	}})
	require.NoError(t, err)
	res := env.Executor.ExecuteNext(env.Ctx)
	require.True(t, res.Success, res.Message)

	track, _ := env.Engine.Track(env.Main.ID)
	assert.Nil(t, track.Items[0].Transform)
	require.NotNil(t, track.Items[1].Transform)
	assert.Equal(t, 0.5, track.Items[1].Transform.Opacity)
	assert.Nil(t, track.Items[2].Transform)
}

func TestCutSequenceRemovesRange(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Engine.AddItem(env.Main.ID, domain.Item{ID: "long", Kind: domain.MediaVideo, Start: 0, Duration: 300}, nil)
	require.NoError(t, err)

	_, err = env.Executor.Submit("director-1", []domain.Directive{{
		Kind: domain.DirectiveCutSequence,
		Params: domain.DirectiveParams{
			Cuts:   []float64{8},
			Remove: []domain.TimeRange{{Start: 2, End: 4}},
		},
	}})
	require.NoError(t, err)
	res := env.Executor.ExecuteNext(env.Ctx)
	require.True(t, res.Success, res.Message)

	track, _ := env.Engine.Track(env.Main.ID)
	var spans [][2]int
	for _, it := range track.Items {
		spans = append(spans, [2]int{it.Start, it.End()})
	}
	assert.ElementsMatch(t, [][2]int{{0, 60}, {120, 240}, {240, 300}}, spans)
	assert.Equal(t, 300, env.Engine.TotalDuration())
}
