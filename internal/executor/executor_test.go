package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/executor"
	"github.com/vk/pagirun/internal/localsession"
	"github.com/vk/pagirun/internal/session"
	"github.com/vk/pagirun/internal/testutil"
)

type fixture struct {
	input  session.Handle
	double session.Handle
	one    session.Handle
	train  session.Handle
	sess   *testutil.FailingSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := session.NewGraph()
	f := &fixture{}
	f.input = g.Placeholder("input")
	f.double = g.Op("double", func(ctx session.Context) (any, error) {
		v, err := ctx.Eval(f.input)
		if err != nil {
			return nil, err
		}
		return v.(float64) * 2, nil
	})
	f.one = g.Op("one", func(session.Context) (any, error) { return 1.0, nil })
	f.train = g.Update("train", func(session.Context) (any, error) { return nil, nil })

	factory := &testutil.SessionFactory{Inner: &localsession.Factory{}}
	s, err := factory.NewSession(context.Background(), g)
	require.NoError(t, err)
	f.sess = s.(*testutil.FailingSession)
	return f
}

func TestStep_CompositionOrderAndDelivery(t *testing.T) {
	t.Parallel()

	// Arrange
	f := newFixture(t)
	log := &testutil.CallLog{}
	a := &testutil.RecordingComponent{
		Name:    "a",
		Log:     log,
		Feed:    component.FeedDict{f.input: 3.0},
		Fetches: []session.Handle{f.double},
	}
	b := &testutil.RecordingComponent{Name: "b", Log: log, Fetches: []session.Handle{f.one}}

	// Act
	results, err := executor.New(f.sess).Step(context.Background(), []component.Component{a, b}, component.Training)

	// Assert
	require.NoError(t, err)
	wantCalls := []string{
		"a.UpdateFeedDict(training)",
		"b.UpdateFeedDict(training)",
		"a.AddFetches(training)",
		"b.AddFetches(training)",
		"a.SetFetches(training)",
		"b.SetFetches(training)",
	}
	if diff := cmp.Diff(wantCalls, log.Calls()); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, f.sess.Runs(), "the engine must be called exactly once")
	assert.Equal(t, component.FetchDict{f.double: 6.0, f.one: 1.0}, results)

	require.Len(t, a.Received(), 1)
	assert.Equal(t, component.FetchDict{f.double: 6.0}, a.Received()[0])
	require.Len(t, b.Received(), 1)
	assert.Equal(t, component.FetchDict{f.one: 1.0}, b.Received()[0])
}

func TestStep_SharedRequestDeliveredToEveryRequester(t *testing.T) {
	t.Parallel()

	// Arrange
	f := newFixture(t)
	a := &testutil.RecordingComponent{Name: "a", Fetches: []session.Handle{f.one}}
	b := &testutil.RecordingComponent{Name: "b", Fetches: []session.Handle{f.one}}

	// Act
	_, err := executor.New(f.sess).Step(context.Background(), []component.Component{a, b}, component.Encoding)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, component.FetchDict{f.one: 1.0}, a.Received()[0])
	assert.Equal(t, component.FetchDict{f.one: 1.0}, b.Received()[0])
	require.Len(t, f.sess.Fetches(), 1)
	assert.Len(t, f.sess.Fetches()[0], 1)
}

func TestStep_EncodingRejectsMutatingFetch(t *testing.T) {
	t.Parallel()

	// Arrange
	f := newFixture(t)
	c := &testutil.RecordingComponent{Name: "c", Fetches: []session.Handle{f.train, f.one}}

	// Act
	_, err := executor.New(f.sess).Step(context.Background(), []component.Component{c}, component.Encoding)

	// Assert
	require.ErrorIs(t, err, executor.ErrMutatingFetch)
	var stepErr *executor.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, executor.PhaseAddFetches, stepErr.Phase)
	assert.Equal(t, 0, stepErr.Component)
	assert.Zero(t, f.sess.Runs())
	assert.Empty(t, c.Received())
}

func TestStep_TrainingAllowsMutatingFetch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := &testutil.RecordingComponent{Name: "c", Fetches: []session.Handle{f.train}}

	_, err := executor.New(f.sess).Step(context.Background(), []component.Component{c}, component.Training)

	require.NoError(t, err)
	assert.Equal(t, 1, f.sess.Runs())
}

func TestStep_PreparationFailureAbortsBeforeExecution(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		setup func(c *testutil.RecordingComponent)
		phase executor.Phase
	}{
		{
			name:  "feed failure",
			setup: func(c *testutil.RecordingComponent) { c.FeedErr = errors.New("no batch") },
			phase: executor.PhaseUpdateFeed,
		},
		{
			name:  "fetch failure",
			setup: func(c *testutil.RecordingComponent) { c.FetchErr = errors.New("bad request") },
			phase: executor.PhaseAddFetches,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			f := newFixture(t)
			log := &testutil.CallLog{}
			first := &testutil.RecordingComponent{Name: "first", Log: log, Fetches: []session.Handle{f.one}}
			second := &testutil.RecordingComponent{Name: "second", Log: log}
			tc.setup(second)

			// Act
			_, err := executor.New(f.sess).Step(context.Background(), []component.Component{first, second}, component.Training)

			// Assert
			var stepErr *executor.StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tc.phase, stepErr.Phase)
			assert.Equal(t, 1, stepErr.Component)
			assert.Zero(t, f.sess.Runs())
			assert.Empty(t, first.Received())
			assert.NotContains(t, log.Calls(), "first.SetFetches(training)")
		})
	}
}

func TestStep_ExecutionFailure(t *testing.T) {
	t.Parallel()

	// Arrange
	f := newFixture(t)
	boom := errors.New("device lost")
	f.sess.FailAt = 1
	f.sess.Err = boom
	c := &testutil.RecordingComponent{Name: "c", Fetches: []session.Handle{f.one}}

	// Act
	results, err := executor.New(f.sess).Step(context.Background(), []component.Component{c}, component.Training)

	// Assert
	require.ErrorIs(t, err, executor.ErrStepExecution)
	require.ErrorIs(t, err, boom)
	assert.Nil(t, results)
	assert.Empty(t, c.Received())
}

func TestStep_SetFetchesErrorsAreJoined(t *testing.T) {
	t.Parallel()

	// Arrange
	f := newFixture(t)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	a := &testutil.RecordingComponent{Name: "a", Fetches: []session.Handle{f.one}, SetErr: errA}
	b := &testutil.RecordingComponent{Name: "b", Fetches: []session.Handle{f.one}, SetErr: errB}

	// Act
	results, err := executor.New(f.sess).Step(context.Background(), []component.Component{a, b}, component.Training)

	// Assert
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	assert.Equal(t, component.FetchDict{f.one: 1.0}, results)
	assert.Len(t, a.Received(), 1)
	assert.Len(t, b.Received(), 1, "later components still receive results")
}
