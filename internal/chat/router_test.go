package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/linechat/internal/chat"
	"github.com/omochice/linechat/pkg/protocol"
)

func stalledClient(t *testing.T, id chat.ConnID) *chat.Client {
	t.Helper()
	conn := newMockConn("127.0.0.1:1234")
	conn.block = make(chan struct{})
	client := chat.NewClient(id, conn, 1, 0)
	t.Cleanup(func() {
		close(conn.block)
		client.Close(context.Background())
	})

	// Fill the writer and the queue.
	for client.Send([]byte("filler\n")) == nil {
	}
	return client
}

func mustParse(t *testing.T, data string) protocol.Message {
	t.Helper()
	msg, err := protocol.ParseMessage(data)
	require.NoError(t, err)
	return msg
}

func TestRouter_BroadcastIgnoresStalledPeer(t *testing.T) {
	dir := chat.NewDirectory()
	reg := chat.NewRegistry()
	router := chat.NewRouter(dir, reg, nil)

	sender, _ := newTestClient(t, "a")
	healthy, healthyConn := newTestClient(t, "b")
	reg.Insert(sender)
	reg.Insert(healthy)
	reg.Insert(stalledClient(t, "c"))

	err := router.Route("a", mustParse(t, `{"header":"@all","message":"hi"}`))
	assert.NoError(t, err)

	healthy.Close(context.Background())
	assert.Len(t, healthyConn.frames(), 1)
}

func TestRouter_DirectedToStalledPeerFails(t *testing.T) {
	dir := chat.NewDirectory()
	reg := chat.NewRegistry()
	router := chat.NewRouter(dir, reg, nil)

	reg.Insert(stalledClient(t, "c"))
	require.NoError(t, dir.Register("c", "carol"))

	err := router.Route("a", mustParse(t, `{"header":"@carol","message":"hi"}`))
	assert.ErrorIs(t, err, chat.ErrDeliveryFailed)
}

func TestRouter_JoinedWithoutHandleFails(t *testing.T) {
	dir := chat.NewDirectory()
	reg := chat.NewRegistry()
	router := chat.NewRouter(dir, reg, nil)

	require.NoError(t, dir.Register("gone", "dave"))

	err := router.Route("a", mustParse(t, `{"header":"@dave","message":"hi"}`))
	assert.ErrorIs(t, err, chat.ErrDeliveryFailed)
}
