package wsock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/apitest"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/live"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *apitest.Server) *Transport {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	tr, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)
	return tr
}

func TestDecode(t *testing.T) {
	n, ok := decode([]byte(`{"type":"eventUpdated","payload":{"id":"e1","title":"T"}}`))
	require.True(t, ok)
	assert.Equal(t, live.KindUpdated, n.Kind)
	assert.Equal(t, "e1", n.EventID)
	assert.Equal(t, "T", n.Detail.Title)

	n, ok = decode([]byte(`{"type":"eventDeleted","payload":"e2"}`))
	require.True(t, ok)
	assert.Equal(t, live.KindDeleted, n.Kind)
	assert.Equal(t, "e2", n.EventID)

	_, ok = decode([]byte(`{"type":"eventUpdated","payload":{}}`))
	assert.False(t, ok)
	_, ok = decode([]byte(`{"type":"chat","payload":"x"}`))
	assert.False(t, ok)
	_, ok = decode([]byte(`not json`))
	assert.False(t, ok)
}

func TestTransport_JoinReceiveLeave(t *testing.T) {
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	tr := dial(t, srv)

	hub := live.NewHub(tr)
	t.Cleanup(func() { _ = hub.Close() })

	sub, err := hub.Subscribe(context.Background(), "e1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.GroupSize("e1") == 1 }, time.Second, 10*time.Millisecond)

	srv.Broadcast("eventUpdated", "e1", domain.EventDetail{ID: "e1", Title: "Live"})
	select {
	case n := <-sub.C():
		assert.Equal(t, "Live", n.Detail.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("no push received")
	}

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool { return srv.GroupSize("e1") == 0 }, time.Second, 10*time.Millisecond)

	actions := srv.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, apitest.Action{Action: "joinEvent", EventID: "e1"}, actions[0])
	assert.Equal(t, apitest.Action{Action: "leaveEvent", EventID: "e1"}, actions[1])
}

func TestTransport_ServerCloseEndsInbound(t *testing.T) {
	srv := apitest.NewServer()
	tr := dial(t, srv)

	srv.Close()
	select {
	case _, ok := <-tr.Inbound():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound not closed")
	}
	_ = tr.Close()
}
