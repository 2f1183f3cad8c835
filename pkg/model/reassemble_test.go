package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallAssembler_FragmentedSingleCall(t *testing.T) {
	a := NewToolCallAssembler()
	a.Add(ToolCallDelta{ID: "c1", NameFragment: "bus_"})
	a.Add(ToolCallDelta{ID: "c1", NameFragment: "list", ArgumentsFragment: "{"})
	a.Add(ToolCallDelta{ID: "c1", ArgumentsFragment: "}"})

	calls := a.Assembled()
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "bus_list", calls[0].Name)
	assert.Equal(t, "{}", calls[0].Arguments)
}

func TestToolCallAssembler_InterleavedIDsPreserveOrderPerID(t *testing.T) {
	a := NewToolCallAssembler()
	a.Add(ToolCallDelta{ID: "c1", ArgumentsFragment: "a"})
	a.Add(ToolCallDelta{ID: "c2", ArgumentsFragment: "x"})
	a.Add(ToolCallDelta{ID: "c1", ArgumentsFragment: "b"})
	a.Add(ToolCallDelta{ID: "c2", ArgumentsFragment: "y"})

	calls := a.Assembled()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].ID)
	assert.Equal(t, "ab", calls[0].Arguments)
	assert.Equal(t, "c2", calls[1].ID)
	assert.Equal(t, "xy", calls[1].Arguments)
}

func TestToolCallAssembler_EmptyIDBindsToMostRecent(t *testing.T) {
	a := NewToolCallAssembler()
	a.Add(ToolCallDelta{ID: "c1", ArgumentsFragment: "{"})
	a.Add(ToolCallDelta{ArgumentsFragment: "}"}) // no id: binds to c1

	calls := a.Assembled()
	require.Len(t, calls, 1)
	assert.Equal(t, "{}", calls[0].Arguments)
}
