package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/bus"
)

func TestStubAcceptsWritesAndReturnsEmptyOnReads(t *testing.T) {
	s := NewStub()
	require.NoError(t, s.SaveTask(TaskRecord{ID: "t1"}))

	rec, ok, err := s.GetTask("t1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, rec)

	id, err := s.SaveMessage(MessageRecord{ID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	msgs, err := s.ListMessages("t1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRegisterExposesAllRequiredIDs(t *testing.T) {
	b := bus.New()
	require.NoError(t, Register(b, NewStub()))
	for _, id := range RequiredIDs() {
		assert.True(t, b.Has(id), "expected %s to be registered", id)
	}
}

func TestRegisteredSaveMessageRoundTripsID(t *testing.T) {
	b := bus.New()
	require.NoError(t, Register(b, NewStub()))

	res := b.Invoke("ldg:msg:save", "", bus.SystemCaller, []byte(`{"id":"abc","taskId":"t1","role":"user","content":"hi"}`))
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "abc", res.Result.(map[string]any)["id"])
}
