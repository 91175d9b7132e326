package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	id  string
	got [][]byte
}

func (f *fakeSink) Send(frame []byte)   { f.got = append(f.got, frame) }
func (f *fakeSink) ConnectionID() string { return f.id }

func TestRegistry_AddAndSendersForUser(t *testing.T) {
	r := New()
	c1 := &fakeSink{id: "c1"}
	c2 := &fakeSink{id: "c2"}

	r.Add("u1", "c1", c1)
	r.Add("u1", "c2", c2)

	senders := r.SendersForUser("u1")
	require.Len(t, senders, 2)
	assert.Equal(t, 2, r.Count())
	assert.True(t, r.IsUserOnline("u1"))
}

func TestRegistry_RemoveDeletesUserWhenEmpty(t *testing.T) {
	r := New()
	sink := &fakeSink{id: "c1"}
	r.Add("u1", "c1", sink)

	r.Remove("u1", "c1")

	assert.False(t, r.IsUserOnline("u1"))
	assert.Empty(t, r.SendersForUser("u1"))
	assert.Equal(t, 0, r.Count())

	_, ok := r.SinkByConnection("c1")
	assert.False(t, ok)
}

func TestRegistry_RemoveOneConnectionKeepsOthers(t *testing.T) {
	r := New()
	c1 := &fakeSink{id: "c1"}
	c2 := &fakeSink{id: "c2"}
	r.Add("u1", "c1", c1)
	r.Add("u1", "c2", c2)

	r.Remove("u1", "c1")

	assert.True(t, r.IsUserOnline("u1"))
	assert.Len(t, r.SendersForUser("u1"), 1)
}

func TestRegistry_SinkByConnectionAndUserByConnection(t *testing.T) {
	r := New()
	sink := &fakeSink{id: "c1"}
	r.Add("u1", "c1", sink)

	got, ok := r.SinkByConnection("c1")
	require.True(t, ok)
	assert.Equal(t, sink, got)

	userID, ok := r.UserByConnection("c1")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)
}

func TestRegistry_AllUserIDs(t *testing.T) {
	r := New()
	r.Add("u1", "c1", &fakeSink{id: "c1"})
	r.Add("u2", "c2", &fakeSink{id: "c2"})

	ids := r.AllUserIDs()
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}

func TestRegistry_MultiTabFanoutReachesExactlyNSinks(t *testing.T) {
	r := New()
	c1 := &fakeSink{id: "c1"}
	c2 := &fakeSink{id: "c2"}
	c3 := &fakeSink{id: "c3"}
	r.Add("u", "c1", c1)
	r.Add("u", "c2", c2)
	r.Add("v", "c3", c3)

	for _, s := range r.SendersForUser("u") {
		s.Send([]byte("payload"))
	}

	assert.Len(t, c1.got, 1)
	assert.Len(t, c2.got, 1)
	assert.Len(t, c3.got, 0)
}
