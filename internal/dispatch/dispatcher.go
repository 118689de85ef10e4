// Package dispatch routes new entries to the messaging backend owning a
// feed's destination key and fans out private copies to subscribers. Backends
// are reached only through the Sender capability; the dispatcher never
// depends on a concrete transport.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"feedhub/internal/extract"
	"feedhub/internal/model"
	"feedhub/internal/storage"
)

// Sender is the capability set a messaging backend supplies. Text splitting
// for length-limited backends is the transport's responsibility.
type Sender interface {
	Send(target, text string) error
	SendPrivate(user, text string) error
	SendMultiline(target, text string) error
}

// Dispatcher fans a new entry out to its destination and to matching private
// subscribers. Safe for concurrent callers: at-most-once delivery rests on
// the history uniqueness constraint upstream, not on locks here.
type Dispatcher struct {
	mu      sync.RWMutex
	senders map[model.Platform]Sender
	store   storage.Storage
	log     *slog.Logger
}

// New creates a Dispatcher with no senders registered.
func New(store storage.Storage, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		senders: make(map[model.Platform]Sender),
		store:   store,
		log:     log,
	}
}

// Register attaches the sender for a platform. Later registrations replace
// earlier ones.
func (d *Dispatcher) Register(platform model.Platform, sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[platform] = sender
}

func (d *Dispatcher) sender(platform model.Platform) (Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.senders[platform]
	return s, ok
}

// Dispatch sends one new entry to the feed's destination and a private copy
// to every subscriber of the same URL. A failure for one destination is
// logged and never blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context, feed model.Feed, entry *extract.Entry) {
	titleMsg := fmt.Sprintf("%s: %s", feed.Name, entry.Title)
	linkMsg := fmt.Sprintf("Link: %s", entry.Link)

	_, target := model.SplitDestKey(feed.DestKey)

	if sender, ok := d.sender(feed.Platform); ok {
		var err error
		switch feed.Platform {
		case model.PlatformMatrix, model.PlatformTelegram:
			err = sender.SendMultiline(target, titleMsg+"\n"+linkMsg)
		default:
			if err = sender.Send(target, titleMsg); err == nil {
				err = sender.Send(target, linkMsg)
			}
		}
		if err != nil {
			d.log.Error("send to destination",
				"platform", feed.Platform, "dest_key", feed.DestKey, "error", err)
		} else {
			d.log.Info("posted entry",
				"platform", feed.Platform, "dest_key", feed.DestKey, "title", entry.Title)
		}
	} else {
		d.log.Warn("no sender for platform", "platform", feed.Platform, "dest_key", feed.DestKey)
	}

	d.notifySubscribers(ctx, feed, entry)
}

// Announce sends free-form text to a destination key, used for operational
// reports. The platform is inferred from the key's shape.
func (d *Dispatcher) Announce(destKey, text string) error {
	platform := model.InferPlatform(destKey)
	sender, ok := d.sender(platform)
	if !ok {
		return fmt.Errorf("no sender for platform %s", platform)
	}
	_, target := model.SplitDestKey(destKey)
	return sender.SendMultiline(target, text)
}

// notifySubscribers delivers a private, differently formatted copy to every
// user whose subscription URL equals the polled feed's URL, regardless of
// which channel owns the feed.
func (d *Dispatcher) notifySubscribers(ctx context.Context, feed model.Feed, entry *extract.Entry) {
	subs, err := d.store.SubscribersFor(ctx, feed.URL)
	if err != nil {
		d.log.Error("list subscribers", "url", feed.URL, "error", err)
		return
	}

	for _, sub := range subs {
		sender, ok := d.sender(feed.Platform)
		if !ok {
			continue
		}
		text := fmt.Sprintf("[%s] %s\n%s", sub.Name, entry.Title, entry.Link)
		if entry.ImageURL != "" {
			text += "\nImage: " + entry.ImageURL
		}
		if err := sender.SendPrivate(sub.Username, text); err != nil {
			d.log.Error("send private copy",
				"user", sub.Username, "feed_id", feed.ID, "error", err)
		}
	}
}
