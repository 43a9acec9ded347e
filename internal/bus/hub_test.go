package bus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m2osw/ipload/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, token string, handler Handler) (*httptest.Server, *Hub) {
	t.Helper()
	log, err := logger.New("error", "text")
	require.NoError(t, err)
	hub := NewHub(log, token, handler)
	go hub.Run()
	t.Cleanup(hub.Stop)

	mux := http.NewServeMux()
	mux.Handle("/ipwall", hub)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsAddress(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestHub_RejectsConnectionWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret", nil)
	_, err := Dial(wsAddress(srv), "")
	assert.Error(t, err)
}

func TestHub_AcceptsConnectionWithCorrectToken(t *testing.T) {
	srv, _ := newTestServer(t, "secret", func(Message) (Message, bool) { return Message{}, false })
	client, err := Dial(wsAddress(srv), "secret")
	require.NoError(t, err)
	defer client.Close()
}

func TestHub_DispatchesGetStatusReply(t *testing.T) {
	srv, _ := newTestServer(t, "", func(msg Message) (Message, bool) {
		if msg.Command == CmdGetStatus {
			return CurrentStatus(true, msg.ID), true
		}
		return Message{}, false
	})
	client, err := Dial(wsAddress(srv), "")
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(GetStatus()))
	client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, CmdCurrentStatus, reply.Command)
	assert.Equal(t, "up", reply.Fields["status"])
}

func TestHub_BroadcastReachesConnectedPeer(t *testing.T) {
	srv, hub := newTestServer(t, "", nil)
	client, err := Dial(wsAddress(srv), "")
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(50 * time.Millisecond) // let the register channel drain
	hub.Broadcast(FirewallUp())

	client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, CmdFirewallUp, msg.Command)
}
