package google

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
)

// MinWatchTTL is the shortest channel lifetime a Watcher accepts.
const MinWatchTTL = time.Minute

// StopChannel stops a push channel. A channel that no longer exists counts
// as stopped.
func (c *CalendarClient) StopChannel(ctx context.Context, ch *calendar.Channel) error {
	err := c.service.Channels.Stop(&calendar.Channel{Id: ch.Id, ResourceId: ch.ResourceId}).Context(ctx).Do()
	if err != nil && !isGone(err) {
		return fmt.Errorf("failed to stop channel %s: %w", ch.Id, err)
	}
	return nil
}

// Watcher keeps exactly one live push channel per watched calendar.
type Watcher struct {
	client  *CalendarClient
	address string
	ttl     time.Duration

	mu       sync.Mutex
	channels map[string]*calendar.Channel // by calendar id
}

// NewWatcher creates a Watcher whose channels post to address and live for ttl.
func NewWatcher(client *CalendarClient, address string, ttl time.Duration) (*Watcher, error) {
	if ttl < MinWatchTTL {
		return nil, fmt.Errorf("channel lifetime %v is shorter than %v", ttl, MinWatchTTL)
	}
	return &Watcher{
		client:   client,
		address:  address,
		ttl:      ttl,
		channels: make(map[string]*calendar.Channel),
	}, nil
}

// RenewInterval is how often Sync should run to keep channels from expiring.
func (w *Watcher) RenewInterval() time.Duration {
	return w.ttl / 2
}

// Sync registers a fresh channel for every calendar in calendarIDs and stops
// the channels it replaces, along with those of calendars no longer listed.
// A calendar whose registration fails keeps its previous channel.
func (w *Watcher) Sync(ctx context.Context, calendarIDs []string) error {
	var errs []error
	for _, id := range calendarIDs {
		ch, err := w.client.WatchEvents(ctx, id, w.address, w.ttl)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		w.mu.Lock()
		old := w.channels[id]
		w.channels[id] = ch
		w.mu.Unlock()
		if old != nil {
			errs = append(errs, w.client.StopChannel(ctx, old))
		}
	}

	w.mu.Lock()
	var stale []*calendar.Channel
	for id, ch := range w.channels {
		if !slices.Contains(calendarIDs, id) {
			stale = append(stale, ch)
			delete(w.channels, id)
		}
	}
	w.mu.Unlock()
	for _, ch := range stale {
		errs = append(errs, w.client.StopChannel(ctx, ch))
	}
	return errors.Join(errs...)
}

// StopAll stops every channel the Watcher holds.
func (w *Watcher) StopAll(ctx context.Context) error {
	w.mu.Lock()
	chans := w.channels
	w.channels = make(map[string]*calendar.Channel)
	w.mu.Unlock()

	var errs []error
	for _, ch := range chans {
		errs = append(errs, w.client.StopChannel(ctx, ch))
	}
	return errors.Join(errs...)
}

// Active reports whether channelID is a channel the Watcher currently holds.
func (w *Watcher) Active(channelID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.channels {
		if ch.Id == channelID {
			return true
		}
	}
	return false
}
