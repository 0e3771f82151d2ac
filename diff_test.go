package mvccdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDiffApplyRoundTrip(t *testing.T) {
	oldBody := []byte(`{"a":1,"b":2}`)
	newBody := []byte(`{"a":1,"b":3}`)

	d, err := ComputeDiff(oldBody, newBody)
	require.NoError(t, err)

	got, err := d.Apply(oldBody)
	require.NoError(t, err)
	require.JSONEq(t, string(newBody), string(got))
}

func TestNewRevIDDeterministicAndParentSensitive(t *testing.T) {
	r1 := NewRevID("", "ptr-a")
	r2 := NewRevID("", "ptr-a")
	require.Equal(t, r1, r2)

	r3 := NewRevID("parent", "ptr-a")
	require.NotEqual(t, r1, r3)
}
