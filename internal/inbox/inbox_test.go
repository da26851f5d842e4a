package inbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMessage struct{ id string }

func (f fakeMessage) MessageID() string { return f.id }

func TestGetInboxByEmailFindsRegistered(t *testing.T) {
	c := NewMemoryCollaborator()
	c.Register("user@example.com", Inbox{BaseEmail: "user@example.com", InboxHash: "h1"})

	in, ok := c.GetInboxByEmail("user@example.com")
	require.True(t, ok)
	require.Equal(t, "h1", in.InboxHash)

	_, ok = c.GetInboxByEmail("missing@example.com")
	require.False(t, ok)
}

func TestGetInboxCount(t *testing.T) {
	c := NewMemoryCollaborator()
	require.Equal(t, 0, c.GetInboxCount())
	c.Register("a@example.com", Inbox{BaseEmail: "a@example.com"})
	c.Register("b@example.com", Inbox{BaseEmail: "b@example.com"})
	require.Equal(t, 2, c.GetInboxCount())
}

func TestAddEmailAppendsInOrder(t *testing.T) {
	c := NewMemoryCollaborator()
	c.Register("user@example.com", Inbox{BaseEmail: "user@example.com"})

	require.NoError(t, c.AddEmail("user@example.com", fakeMessage{id: "1"}))
	require.NoError(t, c.AddEmail("user@example.com", fakeMessage{id: "2"}))

	msgs := c.Messages("user@example.com")
	require.Len(t, msgs, 2)
	require.Equal(t, "1", msgs[0].(fakeMessage).id)
	require.Equal(t, "2", msgs[1].(fakeMessage).id)
}

func TestAddEmailToMissingInboxFails(t *testing.T) {
	c := NewMemoryCollaborator()
	err := c.AddEmail("nobody@example.com", fakeMessage{id: "1"})
	require.Error(t, err)
}

func TestEvictEmailRemovesMessage(t *testing.T) {
	c := NewMemoryCollaborator()
	c.Register("user@example.com", Inbox{BaseEmail: "user@example.com"})
	require.NoError(t, c.AddEmail("user@example.com", fakeMessage{id: "1"}))

	require.NoError(t, c.EvictEmail("user@example.com", "1"))
	require.Empty(t, c.Messages("user@example.com"))

	require.Error(t, c.EvictEmail("user@example.com", "missing"))
}

func TestUnregisterRemovesInboxAndMessages(t *testing.T) {
	c := NewMemoryCollaborator()
	c.Register("user@example.com", Inbox{BaseEmail: "user@example.com"})
	require.NoError(t, c.AddEmail("user@example.com", fakeMessage{id: "1"}))

	c.Unregister("user@example.com")
	_, ok := c.GetInbox("user@example.com")
	require.False(t, ok)
	require.Empty(t, c.Messages("user@example.com"))
}
