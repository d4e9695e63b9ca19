package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/spagmon/internal/events"
)

// requestTimeout bounds how long a control request may wait on the supervisor.
const requestTimeout = 10 * time.Second

// Controller is the part of the supervisor reachable over NATS.
type Controller interface {
	Instruct(ctx context.Context, id, instruction string) (string, error)
	RestartProcess(ctx context.Context, pid int) error
}

// Bridge publishes bus events to NATS and serves control requests.
type Bridge struct {
	url        string
	eventBus   *events.Bus
	controller Controller
	conn       *nats.Conn
	subs       []*nats.Subscription
	unsubBus   func()
	stop       chan struct{}
	done       chan struct{}
	logger     *slog.Logger
	mu         sync.Mutex
}

// NewBridge creates a bridge. eventBus may be nil, in which case no
// events are forwarded.
func NewBridge(url string, eventBus *events.Bus, controller Controller, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		url:        url,
		eventBus:   eventBus,
		controller: controller,
		logger:     logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS, subscribes to the control subjects and starts
// forwarding events.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("spagmon-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn

	for subject, handler := range map[string]nats.MsgHandler{
		SubjectInstruct: b.handleInstruct,
		SubjectRestart:  b.handleRestart,
	} {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			b.cleanup()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	if err := conn.Flush(); err != nil {
		b.cleanup()
		return err
	}

	if b.eventBus != nil {
		ch := make(chan any, 64)
		b.unsubBus = events.SubscribeAllToChannel(b.eventBus, ch)
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go b.forward(conn, ch, b.stop, b.done)
	}

	b.logger.Info("NATS bridge connected", "url", b.url)
	return nil
}

func (b *Bridge) forward(conn *nats.Conn, ch <-chan any, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case item := <-ch:
			ev, ok := item.(events.Event)
			if !ok {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				b.logger.Warn("Failed to marshal event", "error", err, "event", events.Name(ev))
				continue
			}
			if err := conn.Publish(SubjectEvent(events.Name(ev)), data); err != nil {
				b.logger.Debug("Failed to publish event", "error", err, "event", events.Name(ev))
			}
		}
	}
}

func (b *Bridge) handleInstruct(msg *nats.Msg) {
	req, err := UnmarshalInstruct(msg.Data)
	if err != nil {
		b.respond(msg, Reply{Code: ErrCodeInternal, Error: "malformed instruct request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	message, err := b.controller.Instruct(ctx, req.Job, req.Instruction)
	if err != nil {
		b.logger.Info("Instruction rejected", "job", req.Job, "instruction", req.Instruction, "error", err)
	}
	b.respond(msg, replyFor(message, err))
}

func (b *Bridge) handleRestart(msg *nats.Msg) {
	req, err := UnmarshalRestart(msg.Data)
	if err != nil {
		b.respond(msg, Reply{Code: ErrCodeInternal, Error: "malformed restart request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	err = b.controller.RestartProcess(ctx, req.PID)
	b.respond(msg, replyFor("Restarting process", err))
}

func (b *Bridge) respond(msg *nats.Msg, reply Reply) {
	if msg.Reply == "" {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		b.logger.Warn("Failed to marshal reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to send reply", "error", err, "subject", msg.Subject)
	}
}

// cleanup unsubscribes and closes the connection. Callers hold b.mu.
func (b *Bridge) cleanup() {
	if b.unsubBus != nil {
		b.unsubBus()
		b.unsubBus = nil
	}
	if b.stop != nil {
		close(b.stop)
		<-b.done
		b.stop = nil
	}

	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop closes the bridge connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected reports whether the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
