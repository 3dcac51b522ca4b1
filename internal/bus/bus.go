// Package bus provides agent-to-agent messaging over NATS with bounded
// per-recipient inboxes. The process can run its own embedded NATS server
// so a single binary needs no external broker.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
)

const broadcastSubject = "broadcast"

// Config configures the message bus.
type Config struct {
	// Embedded runs an in-process NATS server; URL is ignored when set.
	Embedded bool
	URL      string
	// Prefix namespaces subjects (default "agents.").
	Prefix string
	// InboxSize bounds each recipient's inbox; a full inbox drops its
	// oldest message to admit the new one.
	InboxSize int
}

// Bus routes typed messages between agents.
type Bus struct {
	ns     *natsserver.Server // nil unless embedded
	nc     *nats.Conn
	prefix string
	size   int
	log    zerolog.Logger

	mu      sync.Mutex
	inboxes map[models.AgentID]*Inbox
}

// Inbox is one recipient's bounded message queue. When full, the oldest
// message is discarded so the newest is always admitted.
type Inbox struct {
	recipient models.AgentID
	mu        sync.Mutex
	ch        chan *models.Message
	dropped   uint64
	subs      []*nats.Subscription
}

// New connects the bus, starting an embedded server first when configured.
func New(cfg Config, log zerolog.Logger) (*Bus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "agents."
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}

	b := &Bus{
		prefix:  cfg.Prefix,
		size:    cfg.InboxSize,
		log:     log.With().Str("component", "bus").Logger(),
		inboxes: make(map[models.AgentID]*Inbox),
	}

	url := cfg.URL
	if cfg.Embedded {
		ns, err := natsserver.NewServer(&natsserver.Options{
			Host:  "127.0.0.1",
			Port:  -1, // random port
			NoLog: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server not ready")
		}
		b.ns = ns
		url = ns.ClientURL()
	}

	nc, err := nats.Connect(
		url,
		nats.Name("btcintel-bus"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				b.log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		if b.ns != nil {
			b.ns.Shutdown()
		}
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	b.nc = nc

	b.log.Info().
		Bool("embedded", cfg.Embedded).
		Str("prefix", cfg.Prefix).
		Int("inbox_size", cfg.InboxSize).
		Msg("MessageBus initialized")

	return b, nil
}

// Subscribe registers a recipient and returns its inbox. Registering the
// same recipient again returns the existing inbox.
func (b *Bus) Subscribe(recipient models.AgentID) (*Inbox, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if in, ok := b.inboxes[recipient]; ok {
		return in, nil
	}

	in := &Inbox{
		recipient: recipient,
		ch:        make(chan *models.Message, b.size),
	}

	handler := func(natsMsg *nats.Msg) {
		var msg models.Message
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			b.log.Warn().Err(err).Msg("Failed to unmarshal message")
			return
		}
		// A broadcast from the recipient itself is not delivered back.
		if msg.To == models.BroadcastID && msg.From == recipient {
			return
		}
		in.push(&msg)
	}

	direct, err := b.nc.Subscribe(b.prefix+string(recipient), handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	bcast, err := b.nc.Subscribe(b.prefix+broadcastSubject, handler)
	if err != nil {
		direct.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to broadcasts: %w", err)
	}
	in.subs = []*nats.Subscription{direct, bcast}

	b.inboxes[recipient] = in
	b.log.Info().Str("agent", string(recipient)).Msg("Subscribed to messages")
	return in, nil
}

// Publish sends a message. To == models.BroadcastID fans out to every
// registered recipient except the sender.
func (b *Bus) Publish(ctx context.Context, msg *models.Message) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
	default:
	}

	if !b.nc.IsConnected() {
		return fmt.Errorf("message bus not connected")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	subject := b.prefix + string(msg.To)
	if msg.To == models.BroadcastID {
		subject = b.prefix + broadcastSubject
	}

	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	metrics.BusMessagesPublished.Inc()

	b.log.Debug().
		Str("message_id", msg.ID).
		Str("from", string(msg.From)).
		Str("to", string(msg.To)).
		Str("kind", string(msg.Kind)).
		Msg("Sent message")

	return nil
}

// Flush waits until all published messages have reached the server. Used
// by callers that need delivery before reading inboxes synchronously.
func (b *Bus) Flush() error {
	return b.nc.FlushTimeout(2 * time.Second)
}

// Dropped returns how many messages a recipient's inbox has discarded.
func (b *Bus) Dropped(recipient models.AgentID) uint64 {
	b.mu.Lock()
	in, ok := b.inboxes[recipient]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.dropped
}

// Close drains subscriptions, closes the connection, and stops the
// embedded server if one was started.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, in := range b.inboxes {
		for _, s := range in.subs {
			s.Unsubscribe()
		}
	}
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
	}
	b.log.Info().Msg("MessageBus closed")
	return nil
}

// C exposes the receive channel.
func (in *Inbox) C() <-chan *models.Message { return in.ch }

// TryRecv pops the next message without blocking.
func (in *Inbox) TryRecv() (*models.Message, bool) {
	select {
	case m := <-in.ch:
		return m, true
	default:
		return nil, false
	}
}

// Drain pops every queued message in order.
func (in *Inbox) Drain() []*models.Message {
	var out []*models.Message
	for {
		m, ok := in.TryRecv()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

// push admits a message, discarding the oldest when the inbox is full.
// The mutex keeps eviction and insertion atomic so ordering holds.
func (in *Inbox) push(msg *models.Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for {
		select {
		case in.ch <- msg:
			return
		default:
		}
		select {
		case <-in.ch:
			in.dropped++
			metrics.BusMessagesDropped.WithLabelValues(string(in.recipient)).Inc()
		default:
		}
	}
}
