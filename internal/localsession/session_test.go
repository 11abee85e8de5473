package localsession

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pagirun/internal/scope"
	"github.com/vk/pagirun/internal/session"
)

type counterGraph struct {
	g       *session.Graph
	input   session.Handle
	enc     session.Handle
	dec     session.Handle
	sum     session.Handle
	train   session.Handle
	failing session.Handle
}

// newCounterGraph declares two scalar variables and an update that adds the
// fed value to both of them.
func newCounterGraph() *counterGraph {
	g := session.NewGraph()
	c := &counterGraph{g: g}
	c.input = g.Placeholder("input")
	c.enc = g.Scope("encoder").Variable("w", session.Zeros(1))
	c.dec = g.Scope("decoder").Variable("w", session.Zeros(1))
	c.sum = g.Op("sum", func(ctx session.Context) (any, error) {
		e, err := ctx.Eval(c.enc)
		if err != nil {
			return nil, err
		}
		d, err := ctx.Eval(c.dec)
		if err != nil {
			return nil, err
		}
		return e.(session.Tensor).Data[0] + d.(session.Tensor).Data[0], nil
	})
	c.train = g.Update("train", func(ctx session.Context) (any, error) {
		in, err := ctx.Eval(c.input)
		if err != nil {
			return nil, err
		}
		delta := in.(float64)
		for _, h := range []session.Handle{c.enc, c.dec} {
			v, err := ctx.Eval(h)
			if err != nil {
				return nil, err
			}
			t := v.(session.Tensor)
			t.Data[0] += delta
			if err := ctx.Assign(h, t); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	c.failing = g.Op("failing", func(ctx session.Context) (any, error) {
		return nil, errors.New("boom")
	})
	return c
}

func newSession(t *testing.T, c *counterGraph) *Session {
	t.Helper()
	s, err := (&Factory{}).NewSession(context.Background(), c.g)
	require.NoError(t, err)
	return s.(*Session)
}

func TestRun_UpdateCommitsAfterStep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newCounterGraph()
	s := newSession(t, c)

	out, err := s.Run(ctx, session.FeedDict{c.input: 2.0}, []session.Handle{c.train, c.sum})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[c.sum], "reads within a step see start-of-step values")

	out, err = s.Run(ctx, nil, []session.Handle{c.sum})
	require.NoError(t, err)
	assert.Equal(t, 4.0, out[c.sum])
	assert.Equal(t, 2, s.Steps())
}

func TestRun_FailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newCounterGraph()
	s := newSession(t, c)

	_, err := s.Run(ctx, session.FeedDict{c.input: 5.0}, []session.Handle{c.train, c.failing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	vars := s.Variables(nil)
	assert.Equal(t, 0.0, vars["encoder/w"].Data[0])
	assert.Equal(t, 0.0, vars["decoder/w"].Data[0])
}

func TestRun_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newCounterGraph()
	s := newSession(t, c)

	_, err := s.Run(ctx, nil, []session.Handle{c.train})
	require.ErrorContains(t, err, "was not fed")

	_, err = s.Run(ctx, session.FeedDict{c.enc: 1.0}, []session.Handle{c.sum})
	require.ErrorContains(t, err, "cannot feed variable")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Run(cancelled, nil, []session.Handle{c.sum})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMutates(t *testing.T) {
	t.Parallel()
	c := newCounterGraph()
	s := newSession(t, c)

	assert.True(t, s.Mutates(c.train))
	assert.False(t, s.Mutates(c.sum))
	assert.False(t, s.Mutates(c.enc))
}

func TestFreeze_SkipsUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newCounterGraph()
	s := newSession(t, c)

	scopes, err := scope.ParseList("encoder")
	require.NoError(t, err)
	assert.Equal(t, []string{"encoder/w"}, s.Freeze(scopes))

	_, err = s.Run(ctx, session.FeedDict{c.input: 1.0}, []session.Handle{c.train})
	require.NoError(t, err)

	vars := s.Variables(nil)
	assert.Equal(t, 0.0, vars["encoder/w"].Data[0])
	assert.Equal(t, 1.0, vars["decoder/w"].Data[0])
}

func TestRestore_OnlySelectedScopes(t *testing.T) {
	t.Parallel()
	c := newCounterGraph()
	s := newSession(t, c)

	saved := map[string]session.Tensor{
		"encoder/w": {Shape: []int{1}, Data: []float64{7}},
		"decoder/w": {Shape: []int{1}, Data: []float64{9}},
	}
	scopes, err := scope.ParseList("encoder")
	require.NoError(t, err)

	names, err := s.Restore(saved, scopes)
	require.NoError(t, err)
	assert.Equal(t, []string{"encoder/w"}, names)

	vars := s.Variables(nil)
	assert.Equal(t, 7.0, vars["encoder/w"].Data[0])
	assert.Equal(t, 0.0, vars["decoder/w"].Data[0], "variables outside the scope keep their initial value")
}

func TestRestore_Errors(t *testing.T) {
	t.Parallel()
	c := newCounterGraph()
	s := newSession(t, c)

	_, err := s.Restore(map[string]session.Tensor{"encoder/w": {Shape: []int{1}, Data: []float64{1}}}, nil)
	require.ErrorContains(t, err, `no value for variable "decoder/w"`)

	_, err = s.Restore(map[string]session.Tensor{"encoder/w": {Shape: []int{2}, Data: []float64{1, 2}}}, scope.List{{Segments: []string{"encoder"}}})
	require.ErrorContains(t, err, "does not match")

	_, err = s.Restore(nil, scope.List{{Segments: []string{"missing"}}})
	require.ErrorContains(t, err, "no variables under scopes")
}

func TestClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newCounterGraph()
	s := newSession(t, c)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	_, err := s.Run(ctx, nil, []session.Handle{c.sum})
	require.ErrorIs(t, err, session.ErrClosed)
}
