package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sdpdash/events"
)

// Event names on /api/events.
const (
	EventToast         = "toast"
	EventNotifications = "notifications"
	EventChangelog     = "changelog"
	EventStage         = "stage"
	EventSettings      = "settings"
	EventTheme         = "theme"
	EventLocation      = "location"
)

// SSEHandler streams broker events to one client until it disconnects. The
// first frame carries a generated client id.
func SSEHandler(broker *events.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		client := make(chan string, 10)
		broker.Register(client)
		defer broker.Unregister(client)

		id := uuid.NewString()
		fmt.Fprintf(w, "event: connected\ndata: {\"message\": \"Connected to sdp events\", \"clientId\": %q}\n\n", id)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		for {
			select {
			case message, ok := <-client:
				if !ok {
					return
				}
				fmt.Fprint(w, message)
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

// Relay broadcasts every shell topic through the broker until ctx is done.
func (s *Server) Relay(ctx context.Context) error {
	sh := s.shell
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay(ctx, s.broker, EventToast, sh.Toasts.Subscribe) })
	g.Go(func() error { return relay(ctx, s.broker, EventNotifications, sh.Poller.Subscribe) })
	g.Go(func() error { return relay(ctx, s.broker, EventChangelog, sh.Feed.SubscribeFiltered) })
	g.Go(func() error { return relay(ctx, s.broker, EventSettings, sh.Settings.Subscribe) })
	g.Go(func() error { return relay(ctx, s.broker, EventTheme, sh.Settings.SubscribeTheme) })
	g.Go(func() error { return relay(ctx, s.broker, EventLocation, sh.Nav.Subscribe) })
	g.Go(func() error { return relay(ctx, s.broker, EventStage, sh.Generate.Subscribe) })
	g.Go(func() error { return relay(ctx, s.broker, EventStage, sh.Process.Subscribe) })
	g.Go(func() error { return relay(ctx, s.broker, EventStage, sh.Upload.Subscribe) })
	return g.Wait()
}

func relay[T any](ctx context.Context, broker *events.Broker, event string, subscribe func() (<-chan T, func())) error {
	ch, cancel := subscribe()
	defer cancel()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			broker.Broadcast(event, v)
		case <-ctx.Done():
			return nil
		}
	}
}
