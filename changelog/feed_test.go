package changelog

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sdpdash/gateway"
	"sdpdash/gateway/gatewaytest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	fe1 = gateway.ChangelogEntry{ID: 1, Version: "1.0.0", Component: gateway.ComponentFrontend}
	be1 = gateway.ChangelogEntry{ID: 2, Version: "1.0.1", Component: gateway.ComponentBackend}
	ge1 = gateway.ChangelogEntry{ID: 3, Version: "1.1.0", Component: gateway.ComponentGeneral}
	fe2 = gateway.ChangelogEntry{ID: 4, Version: "1.2.0", Component: gateway.ComponentFrontend}
)

func TestApplyFilter(t *testing.T) {
	entries := []gateway.ChangelogEntry{fe2, ge1, be1, fe1}

	cases := map[Filter][]gateway.ChangelogEntry{
		All:      {fe2, ge1, be1, fe1},
		Frontend: {fe2, ge1, fe1},
		Backend:  {ge1, be1},
	}
	for filter, want := range cases {
		if diff := cmp.Diff(want, ApplyFilter(entries, filter)); diff != "" {
			t.Errorf("ApplyFilter(%s) mismatch (-want +got):\n%s", filter, diff)
		}
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("frontend")
	require.NoError(t, err)
	assert.Equal(t, Frontend, f)

	f, err = ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, All, f)

	_, err = ParseFilter("GENERAL")
	assert.ErrorIs(t, err, ErrUnknownFilter)
}

func startFeed(t *testing.T, srv *gatewaytest.Server) *Feed {
	t.Helper()
	feed := NewFeed(gateway.New(srv.APIURL()), WithRetry(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		feed.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		feed.Close()
	})
	return feed
}

func waitStreams(t *testing.T, srv *gatewaytest.Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Streams() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestSeedThenPush(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.SetChangelog(be1, fe1)
	feed := startFeed(t, srv)
	waitStreams(t, srv, 1)

	if diff := cmp.Diff([]gateway.ChangelogEntry{be1, fe1}, feed.Entries()); diff != "" {
		t.Fatalf("seed mismatch (-want +got):\n%s", diff)
	}

	srv.Push(fe2)
	require.Eventually(t, func() bool { return len(feed.Entries()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, fe2, feed.Entries()[0])
}

func TestPushedDuplicatesAreKept(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.SetChangelog(fe1)
	feed := startFeed(t, srv)
	waitStreams(t, srv, 1)

	srv.Push(fe1)
	require.Eventually(t, func() bool { return len(feed.Entries()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []gateway.ChangelogEntry{fe1, fe1}, feed.Entries())
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := gatewaytest.New(t)
	feed := startFeed(t, srv)
	waitStreams(t, srv, 1)

	srv.DropStreams()
	require.Eventually(t, func() bool {
		return srv.Calls(gatewaytest.OpStream) >= 2 && srv.Streams() == 1
	}, 2*time.Second, 5*time.Millisecond)

	srv.Push(ge1)
	require.Eventually(t, func() bool { return len(feed.Entries()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestInitialFetchFailureIsSilent(t *testing.T) {
	srv := gatewaytest.New(t)
	srv.Fail(gatewaytest.OpChangelog, http.StatusInternalServerError, `{"error":"down"}`)
	feed := startFeed(t, srv)
	waitStreams(t, srv, 1)

	assert.Empty(t, feed.Entries())
	srv.Push(be1)
	require.Eventually(t, func() bool { return len(feed.Filtered()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSetFilterIsSynchronous(t *testing.T) {
	feed := NewFeed(nil)
	defer feed.Close()
	feed.Prepend(fe1)
	feed.Prepend(be1)
	feed.Prepend(ge1)

	feed.SetFilter(Backend)
	assert.Equal(t, Backend, feed.Filter())
	assert.Equal(t, []gateway.ChangelogEntry{ge1, be1}, feed.Filtered())

	feed.SetFilter(All)
	assert.Len(t, feed.Filtered(), 3)
}

func TestFilteredRepublishesOnBothTriggers(t *testing.T) {
	feed := NewFeed(nil)
	defer feed.Close()
	ch, cancel := feed.SubscribeFiltered()
	defer cancel()
	assert.Empty(t, <-ch)

	feed.Prepend(be1)
	assert.Equal(t, []gateway.ChangelogEntry{be1}, <-ch)

	feed.SetFilter(Frontend)
	assert.Empty(t, <-ch)

	feed.Prepend(ge1)
	assert.Equal(t, []gateway.ChangelogEntry{ge1}, <-ch)
}
