package settings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefault(t *testing.T) {
	s := NewStore(Default()).Snapshot()
	assert.Equal(t, 0.97, s.ConfidenceThreshold)
	assert.True(t, s.ShowBoxes)
}

func TestApplyPartial(t *testing.T) {
	st := NewStore(Default())

	got := st.Apply(Patch{ShowBoxes: ptr(false)})
	assert.False(t, got.ShowBoxes)
	assert.Equal(t, 0.97, got.ConfidenceThreshold)

	got = st.Apply(Patch{ConfidenceThreshold: ptr(0.5)})
	assert.False(t, got.ShowBoxes)
	assert.Equal(t, 0.5, got.ConfidenceThreshold)
	assert.Equal(t, got, st.Snapshot())
}

func TestApplyClamps(t *testing.T) {
	st := NewStore(Settings{ConfidenceThreshold: 3})
	assert.Equal(t, 1.0, st.Snapshot().ConfidenceThreshold)

	assert.Equal(t, 0.0, st.Apply(Patch{ConfidenceThreshold: ptr(-0.2)}).ConfidenceThreshold)
	assert.Equal(t, 0.0, st.Apply(Patch{ConfidenceThreshold: ptr(math.NaN())}).ConfidenceThreshold)
	assert.Equal(t, 1.0, st.Apply(Patch{ConfidenceThreshold: ptr(1.01)}).ConfidenceThreshold)
}

func TestSubscribe(t *testing.T) {
	st := NewStore(Default())
	ch := st.Subscribe()

	st.Apply(Patch{ConfidenceThreshold: ptr(0.4)})
	got := <-ch
	assert.Equal(t, 0.4, got.ConfidenceThreshold)

	st.Unsubscribe(ch)
	_, open := <-ch
	require.False(t, open)

	// No listeners left; must not block or panic.
	st.Apply(Patch{ShowBoxes: ptr(false)})
}
