package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pagirun/internal/component"
	"github.com/vk/pagirun/internal/options"
)

func testComponent() *RegisteredComponent {
	return &RegisteredComponent{
		New: func(component.Params) (component.Component, error) { return nil, nil },
		Defaults: func() *options.OptionSet {
			return options.New(options.Float("learning_rate", 0.1), options.Int("batch_size", 8))
		},
	}
}

func TestRegisterComponent_DuplicatePanics(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterComponent("ae", testComponent())

	assert.PanicsWithValue(t, "component with name 'ae' already registered", func() {
		r.RegisterComponent("ae", testComponent())
	})
}

func TestLookup_UnknownNameListsRegistered(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterComponent("ae", testComponent())
	r.RegisterComponent("kmeans", testComponent())

	_, err := r.Component("pca")
	require.Error(t, err)
	assert.Equal(t, `unknown component "pca" (registered: [ae kmeans])`, err.Error())

	c, err := r.Component("ae")
	require.NoError(t, err)
	assert.NotNil(t, c.New)
}

func TestValidateRegistry(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		overrides map[string]options.Mapping
		wantErrs  []string
	}{
		{
			name: "valid table",
			overrides: map[string]options.Mapping{
				"ae": options.MustMapping(map[string]any{"learning_rate": 0.05}),
			},
		},
		{
			name: "unknown target",
			overrides: map[string]options.Mapping{
				"pca": options.MustMapping(map[string]any{"k": 3}),
			},
			wantErrs: []string{"code overrides for 'pca': no component or workflow with that name"},
		},
		{
			name: "unknown key",
			overrides: map[string]options.Mapping{
				"ae": options.MustMapping(map[string]any{"momentum": 0.9}),
			},
			wantErrs: []string{"code overrides for 'ae'", "momentum"},
		},
		{
			name: "wrong kind",
			overrides: map[string]options.Mapping{
				"ae": options.MustMapping(map[string]any{"batch_size": 2.5}),
			},
			wantErrs: []string{"batch_size"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			r := New()
			r.RegisterComponent("ae", testComponent())
			for name, m := range tc.overrides {
				r.RegisterCodeOverrides(name, m)
			}

			// Act
			err := r.ValidateRegistry(context.Background())

			// Assert
			if len(tc.wantErrs) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tc.wantErrs {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
