package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	// DefaultChannel is the channel the change capture trigger notifies on.
	DefaultChannel = "record_changes"

	listenerMinReconnect = 1 * time.Second
	listenerMaxReconnect = 30 * time.Second
)

// Listener turns LISTEN/NOTIFY traffic into coalesced wakeups.
// It implements storage.Notifier.
type Listener struct {
	listener *pq.Listener
	channel  string
	signals  chan struct{}
}

// NewListener opens a dedicated connection and subscribes to channel.
func NewListener(dsn, channel string) (*Listener, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	l := &Listener{
		channel: channel,
		signals: make(chan struct{}, 1),
	}
	l.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, l.onEvent)
	if err := l.listener.Listen(channel); err != nil {
		l.listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}

	slog.Info("[Listener] Subscribed", "channel", channel)
	return l, nil
}

func (l *Listener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		slog.Warn("[Listener] Connection lost", "channel", l.channel, "error", err)
	case pq.ListenerEventReconnected:
		// Notifications sent while disconnected are lost; poll once.
		slog.Info("[Listener] Reconnected", "channel", l.channel)
		l.signal()
	}
}

// Run forwards notifications until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			l.signal()
		}
	}
}

// Notifications implements storage.Notifier.
func (l *Listener) Notifications() <-chan struct{} {
	return l.signals
}

func (l *Listener) signal() {
	select {
	case l.signals <- struct{}{}:
	default:
	}
}

// Close releases the listener connection.
func (l *Listener) Close() error {
	return l.listener.Close()
}
