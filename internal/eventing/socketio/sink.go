// Package socketio provides an eventing.Sink that streams run lifecycle
// events to a socket.io collector, for dashboards that want push updates
// instead of polling the run-state endpoint.
package socketio

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/eventing"
)

// Config holds the collector endpoint settings.
type Config struct {
	URL                string
	Namespace          string
	EmitEvent          string
	ConnectTimeout     time.Duration
	InsecureSkipVerify bool
}

// Sink publishes events over a long-lived socket.io connection.
type Sink struct {
	io        *socket.Socket
	emitEvent string
	connected atomic.Bool
}

var _ eventing.Sink = (*Sink)(nil)

// New connects to the collector and returns the sink. Connection loss after
// startup is tolerated: Publish reports the error and the engine logs it
// without affecting runs.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse collector URL: %w", err)
	}

	emitEvent := cfg.EmitEvent
	if emitEvent == "" {
		emitEvent = "workflow_event"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	s := &Sink{io: io, emitEvent: emitEvent}

	connectErr := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		s.connected.Store(true)
		logger.Info("Connected to event collector", "namespace", cfg.Namespace, "sid", io.Id())
		select {
		case connectErr <- nil:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if err, ok := errs[0].(error); ok {
				select {
				case connectErr <- err:
				default:
				}
			}
		}
	})
	io.On(types.EventName("disconnect"), func(...any) {
		s.connected.Store(false)
		logger.Warn("Event collector connection lost")
	})

	io.Connect()

	select {
	case err := <-connectErr:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("connect to event collector: %w", err)
		}
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out connecting to event collector at %s", cfg.URL)
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	}

	return s, nil
}

// Publish emits the event to the collector.
func (s *Sink) Publish(ctx context.Context, event eventing.Event) error {
	if !s.connected.Load() {
		return fmt.Errorf("event collector not connected")
	}
	return s.io.Emit(s.emitEvent, event)
}

// Close disconnects from the collector.
func (s *Sink) Close() error {
	s.io.Disconnect()
	return nil
}
