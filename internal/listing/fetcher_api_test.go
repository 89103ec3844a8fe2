package listing

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/api"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/apitest"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/filter"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/notify"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/transport/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_AgainstServer_SlowFirstQueryLoses(t *testing.T) {
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	srv.AddEvent(domain.EventDetail{Title: "Alpha night", Description: "a", Category: "social", Date: base})
	srv.AddEvent(domain.EventDetail{Title: "Beta talk", Description: "b", Category: "conference", Date: base})

	release := make(chan struct{})
	arrivedA := make(chan struct{}, 1)
	srv.ListHook = func(q url.Values) {
		if q.Get("search") == "alpha" {
			arrivedA <- struct{}{}
			<-release
		}
	}
	t.Cleanup(func() { close(release) })

	client := api.New(srv.URL, httpclient.New(httpclient.DefaultConfig()))
	f := New(client)
	h := filter.NewDefaultHolder(10)
	f.Bind(context.Background(), h)
	f.Wait()

	require.NoError(t, h.Set(filter.Search("alpha")))
	<-arrivedA
	require.NoError(t, h.Set(filter.Search("beta")))

	require.Eventually(t, func() bool {
		st := f.State()
		return !st.Loading && len(st.Events) == 1 && st.Events[0].Title == "Beta talk"
	}, 2*time.Second, 10*time.Millisecond)

	f.Close()
	st := f.State()
	assert.Equal(t, "beta", st.Filter.Search)
	assert.NoError(t, st.Err)
}

func TestFetcher_AgainstServer_ErrorThenRecovery(t *testing.T) {
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddEvent(domain.EventDetail{Title: "Gamma", Description: "g", Category: "meetup", Date: time.Now().UTC()})

	rec := &notify.Recorder{}
	f := New(api.New(srv.URL, httpclient.New(httpclient.DefaultConfig())), WithNotifier(rec))

	srv.FailNext("/api/events", 500)
	st := f.Fetch(context.Background(), domain.DefaultFilter())
	assert.Empty(t, st.Events)
	assert.True(t, domain.IsKind(st.Err, domain.KindInternal))
	assert.Len(t, rec.All(), 1)

	srv.ClearFailures()
	st = f.Reload(context.Background())
	assert.NoError(t, st.Err)
	assert.Len(t, st.Events, 1)
}
