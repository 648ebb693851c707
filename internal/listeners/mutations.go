// Package listeners holds the long-lived input adapters that feed external
// activity into the event bus: the NATS mutation listener and the fsnotify
// source watcher. Both are started once by the orchestrator as side
// processes and run until the process context is canceled.
package listeners

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/devloop/internal/events"
	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/logfields"
)

// MutationListenerConfig configures the NATS mutation subscription.
type MutationListenerConfig struct {
	URL     string
	Subject string
}

// MutationListener subscribes to the content mutation subject and republishes
// each message as a MutationReceived event. It performs no filtering or
// interpretation: routing by build phase is the orchestrator's job.
type MutationListener struct {
	cfg MutationListenerConfig
	bus *events.Bus
}

// NewMutationListener validates the configuration and returns the listener.
// The NATS connection is not established until Run.
func NewMutationListener(cfg MutationListenerConfig, bus *events.Bus) (*MutationListener, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("bus is required").Build()
	}
	if cfg.URL == "" {
		return nil, ferrors.ValidationError("NATS URL is required").Build()
	}
	if cfg.Subject == "" {
		return nil, ferrors.ValidationError("NATS subject is required").Build()
	}
	return &MutationListener{cfg: cfg, bus: bus}, nil
}

func (l *MutationListener) Name() string { return "mutation-listener" }

// Run connects, subscribes and relays messages until ctx is canceled.
// Reconnection is delegated to the NATS client.
func (l *MutationListener) Run(ctx context.Context) error {
	conn, err := nats.Connect(l.cfg.URL,
		nats.Name("devloop-mutation-listener"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryListener, "failed to connect to NATS").
			WithContext("url", l.cfg.URL).Build()
	}
	defer conn.Close()

	msgCh := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(l.cfg.Subject, msgCh)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryListener, "failed to subscribe").
			WithContext("subject", l.cfg.Subject).Build()
	}
	defer func() { _ = sub.Unsubscribe() }()

	slog.Info("Mutation listener connected",
		slog.String("url", conn.ConnectedUrl()), logfields.Subject(l.cfg.Subject))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return ferrors.ListenerError("mutation subscription closed").
					WithContext("subject", l.cfg.Subject).Build()
			}
			evt := mutationEvent(msg.Data)
			if err := l.bus.Publish(ctx, evt); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("Failed to publish mutation event",
					logfields.MutationID(evt.ID), logfields.Error(err))
			}
		}
	}
}

// mutationEvent builds the bus event for one raw message. The mutation ID is
// taken from the payload when present so retried deliveries stay
// correlatable; otherwise one is assigned.
func mutationEvent(data []byte) events.MutationReceived {
	var envelope struct {
		MutationID string `json:"mutation_id"`
	}
	id := ""
	if err := json.Unmarshal(data, &envelope); err == nil {
		id = envelope.MutationID
	}
	if id == "" {
		id = uuid.NewString()
	}
	return events.MutationReceived{
		ID:         id,
		Payload:    data,
		ReceivedAt: time.Now(),
	}
}
