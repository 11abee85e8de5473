package options

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func newHParams() *OptionSet {
	return New(
		Float("learning_rate", 0.1),
		Int("batch_size", 32),
		Bool("tied_weights", false),
		String("optimizer", "sgd"),
		Map("extra", cty.ObjectVal(map[string]cty.Value{"a": cty.NumberIntVal(1)})),
	)
}

func TestOverride_PerKey(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	s := newHParams()

	// --- Act ---
	err := s.Override(MustMapping(map[string]any{"learning_rate": 0.05}), Strict)
	require.NoError(t, err)
	err = s.Override(MustMapping(map[string]any{"batch_size": 64}), Strict)
	require.NoError(t, err)

	// --- Assert ---
	assert.Equal(t, 0.05, s.Float("learning_rate"))
	assert.Equal(t, 64, s.Int("batch_size"))
	assert.False(t, s.Bool("tied_weights"), "untouched keys keep their default")
	assert.Equal(t, "sgd", s.String("optimizer"))
}

func TestOverride_StrictRejectsUnknown(t *testing.T) {
	t.Parallel()

	s := newHParams()
	err := s.Override(MustMapping(map[string]any{"learning_rat": 0.3, "batch_size": 8}), Strict)

	var unknown *UnknownOptionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "learning_rat", unknown.Name)
	assert.Equal(t, 32, s.Int("batch_size"), "a failed override must not apply any key")
}

func TestOverride_AdditiveAppendsInLexicalOrder(t *testing.T) {
	t.Parallel()

	s := New(Bool("train", true))
	err := s.Override(MustMapping(map[string]any{"zeta": "z", "alpha": 2, "train": false}), Additive)
	require.NoError(t, err)

	assert.Equal(t, []string{"train", "alpha", "zeta"}, s.Names())
	assert.Equal(t, KindInt, s.Kind("alpha"))
	assert.Equal(t, 2, s.Int("alpha"))
	assert.False(t, s.Bool("train"))
}

func TestOverride_ConvertsToDeclaredKind(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		override  map[string]any
		expectErr bool
	}{
		{name: "string to float", override: map[string]any{"learning_rate": "0.3"}},
		{name: "int to float", override: map[string]any{"learning_rate": 1}},
		{name: "whole float to int", override: map[string]any{"batch_size": 16.0}},
		{name: "fractional to int", override: map[string]any{"batch_size": 16.5}, expectErr: true},
		{name: "int beyond int64", override: map[string]any{"batch_size": 1e19}, expectErr: true},
		{name: "string to bool", override: map[string]any{"tied_weights": "true"}},
		{name: "garbage to bool", override: map[string]any{"tied_weights": "maybe"}, expectErr: true},
		{name: "scalar to map", override: map[string]any{"extra": 3}, expectErr: true},
		{name: "map replaced", override: map[string]any{"extra": map[string]any{"b": "x"}}},
		{name: "null rejected", override: map[string]any{"optimizer": nil}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newHParams()
			err := s.Override(MustMapping(tc.override), Strict)
			if tc.expectErr {
				var invalid *InvalidValueError
				require.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOverride_MapReplacedWholesale(t *testing.T) {
	t.Parallel()

	s := newHParams()
	require.NoError(t, s.Override(MustMapping(map[string]any{"extra": map[string]any{"b": "x"}}), Strict))

	got := s.Map("extra")
	assert.Equal(t, []string{"b"}, got.Keys())
}

func TestSealedAfterFirstRead(t *testing.T) {
	t.Parallel()

	s := newHParams()
	require.False(t, s.Sealed())
	_ = s.Float("learning_rate")
	require.True(t, s.Sealed())

	err := s.Override(MustMapping(map[string]any{"learning_rate": 0.2}), Strict)
	require.True(t, errors.Is(err, ErrSealed))
	assert.Equal(t, 0.1, s.Float("learning_rate"))
}

func TestClone_IsIndependentAndUnsealed(t *testing.T) {
	t.Parallel()

	template := newHParams()
	_ = template.Names()

	c := template.Clone()
	require.False(t, c.Sealed())
	require.NoError(t, c.Override(MustMapping(map[string]any{"learning_rate": 0.9}), Strict))

	assert.Equal(t, 0.9, c.Float("learning_rate"))
	assert.Equal(t, 0.1, template.Float("learning_rate"))
}

func TestMarshalJSON_PreservesOrder(t *testing.T) {
	t.Parallel()

	s := New(Int("b", 2), String("a", "x"), Bool("c", true))
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2,"a":"x","c":true}`, string(raw))
}

func TestValues(t *testing.T) {
	t.Parallel()

	s := newHParams()
	want := map[string]any{
		"learning_rate": 0.1,
		"batch_size":    int64(32),
		"tied_weights":  false,
		"optimizer":     "sgd",
		"extra":         map[string]any{"a": int64(1)},
	}
	if diff := cmp.Diff(want, s.Values()); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	type hparams struct {
		LearningRate float64 `opt:"learning_rate"`
		BatchSize    int     `opt:"batch_size"`
		Tied         bool    `opt:"tied_weights"`
		Optimizer    string  `opt:"optimizer"`
		Extra        any     `opt:"extra"`
		Ignored      string
	}

	s := newHParams()
	var got hparams
	require.NoError(t, s.Decode(&got))

	assert.Equal(t, 0.1, got.LearningRate)
	assert.Equal(t, 32, got.BatchSize)
	assert.Equal(t, "sgd", got.Optimizer)
	assert.Equal(t, map[string]any{"a": int64(1)}, got.Extra)
	assert.Empty(t, got.Ignored)
}

func TestDecode_UnknownTag(t *testing.T) {
	t.Parallel()

	var target struct {
		Missing int `opt:"missing"`
	}
	err := newHParams().Decode(&target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestNew_DuplicatePanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New(Int("a", 1), Int("a", 2)) })
}
