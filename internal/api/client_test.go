package api_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/api"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/apitest"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/transport/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*api.Client, *apitest.Server) {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	return api.New(srv.URL, httpclient.New(httpclient.DefaultConfig())), srv
}

func TestClient_ListEvents(t *testing.T) {
	c, srv := newClient(t)
	base := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	srv.AddEvent(domain.EventDetail{Title: "Music Conf", Description: "live", Category: "conference", Date: base})
	srv.AddEvent(domain.EventDetail{Title: "Music Meetup", Description: "jam", Category: "meetup", Date: base.AddDate(0, 0, 1)})
	srv.AddEvent(domain.EventDetail{Title: "Go Workshop", Description: "code", Category: "workshop", Date: base.AddDate(0, 0, 2)})

	f := domain.DefaultFilter()
	f.Search = "music"
	f.Category = domain.CategoryConference

	res, err := c.ListEvents(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "Music Conf", res.Events[0].Title)
	assert.Equal(t, 1, res.Pagination.CurrentPage)
	assert.False(t, res.Pagination.HasNextPage)

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "music", last.Query.Get("search"))
	assert.Equal(t, "conference", last.Query.Get("category"))
	assert.False(t, last.Query.Has("startDate"))
	assert.NotEmpty(t, last.Header.Get("X-Request-Id"))
}

func TestClient_ListEvents_ServerError(t *testing.T) {
	c, srv := newClient(t)
	srv.FailNext("/api/events", http.StatusInternalServerError)

	_, err := c.ListEvents(context.Background(), domain.DefaultFilter())
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	var se *api.StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestClient_GetEvent_NotFound(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.GetEvent(context.Background(), "missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestClient_CreateEvent_ValidationErrors(t *testing.T) {
	c, srv := newClient(t)
	u := srv.AddUser("Ann", "ann@example.com", "secret1")

	_, err := c.CreateEvent(context.Background(), u.Token, "key-1", domain.EventInput{Title: "Only title"})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, []domain.FieldError{
		{Field: "description", Message: "Description is required"},
		{Field: "location", Message: "Location is required"},
	}, domain.FieldsOf(err))

	reqs := srv.Requests()
	assert.Equal(t, "key-1", reqs[len(reqs)-1].Header.Get(api.HeaderIdempotencyKey))
	assert.Equal(t, "Bearer "+u.Token, reqs[len(reqs)-1].Header.Get("Authorization"))
}

func TestClient_JoinLeaveAndDelete(t *testing.T) {
	c, srv := newClient(t)
	owner := srv.AddUser("Owner", "owner@example.com", "secret1")
	bob := srv.AddUser("Bob", "bob@example.com", "secret1")
	ev := srv.AddEvent(domain.EventDetail{Title: "Party", Description: "d", Location: "l", CreatorID: owner.ID})

	joined, err := c.JoinEvent(context.Background(), bob.Token, ev.ID)
	require.NoError(t, err)
	assert.True(t, joined.IsAttending(bob.ID))

	left, err := c.LeaveEvent(context.Background(), bob.Token, ev.ID)
	require.NoError(t, err)
	assert.False(t, left.IsAttending(bob.ID))

	err = c.DeleteEvent(context.Background(), bob.Token, ev.ID)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	require.NoError(t, c.DeleteEvent(context.Background(), owner.Token, ev.ID))
	_, ok := srv.Event(ev.ID)
	assert.False(t, ok)
}

func TestClient_Auth(t *testing.T) {
	c, srv := newClient(t)
	srv.AddUser("Ann", "ann@example.com", "secret1")

	res, err := c.Login(context.Background(), "ann@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "Ann", res.User.Name)

	me, err := c.Me(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", me.Email)

	_, err = c.Login(context.Background(), "ann@example.com", "wrong")
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Invalid credentials")

	_, err = c.Me(context.Background(), "garbage")
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
}

func TestClient_UploadImage(t *testing.T) {
	c, _ := newClient(t)
	url, err := c.UploadImage(context.Background(), "cover.png", "image/png", strings.NewReader("\x89PNG\r\n\x1a\nxxxx"))
	require.NoError(t, err)
	assert.Contains(t, url, "cover.png")
}

func TestClient_NetworkError(t *testing.T) {
	srv := apitest.NewServer()
	url := srv.URL
	srv.Close()

	c := api.New(url, httpclient.New(httpclient.DefaultConfig()))
	_, err := c.GetEvent(context.Background(), "x")
	assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
	assert.ErrorIs(t, err, httpclient.ErrUnavailable)
}
