package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	t.Run("declares states in order", func(t *testing.T) {
		definition := NewMachine().
			State("idle").Initial().
			To("running").On("start").
			State("running").
			To("done").On("finish").
			Build()

		assert.Equal(t, "idle", definition.GetInitialState())
		assert.Equal(t, []string{"idle", "running", "done"}, definition.GetStates())
		require.NoError(t, definition.Validate())
	})

	t.Run("multiple transitions from one state", func(t *testing.T) {
		definition := NewMachine().
			State("a").Initial().
			To("b").On("x").
			To("c").On("y").
			ToSelf().On("z").
			Build()

		transitions := definition.GetTransitions()["a"]
		require.Len(t, transitions, 3)
		assert.Equal(t, "b", transitions[0].TargetState)
		assert.Equal(t, "c", transitions[1].TargetState)
		assert.Equal(t, "a", transitions[2].TargetState)
		assert.Equal(t, "z", transitions[2].Event)
	})

	t.Run("guard and action attach to the committed transition", func(t *testing.T) {
		definition := NewMachine().
			State("a").Initial().
			To("b").On("go").
			When(func(ctx Context) bool { return true }).
			Do(func(ctx Context) error { return nil }).
			Build()

		transition := definition.GetTransitions()["a"][0]
		assert.NotNil(t, transition.Guard)
		assert.NotNil(t, transition.Action)
	})

	t.Run("reopening a state keeps one declaration", func(t *testing.T) {
		definition := NewMachine().
			State("a").Initial().To("b").On("go").
			State("a").Final().
			Build()

		state, ok := definition.GetState("a")
		require.True(t, ok)
		assert.True(t, state.IsFinal())
		assert.Equal(t, []string{"a", "b"}, definition.GetStates())
	})

	t.Run("transition without event is not registered", func(t *testing.T) {
		definition := NewMachine().
			State("a").Initial().
			To("b").
			Build()

		assert.Empty(t, definition.GetTransitions()["a"])
	})

	t.Run("validation catches a missing initial state", func(t *testing.T) {
		definition := NewMachine().State("a").Build()
		assert.True(t, IsConfigurationError(definition.Validate()))
	})
}
