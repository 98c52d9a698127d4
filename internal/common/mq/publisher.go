package mq

import (
	"context"
	"sync"
)

// Message is a broker-independent event envelope. Type doubles as the AMQP
// routing key; Key orders messages of one aggregate on Kafka partitions.
type Message struct {
	ID      string
	Type    string
	Key     string
	Body    []byte
	Headers map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Nop discards messages; used when the events broker is "none".
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }

// Recorder keeps published messages in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// OfType returns recorded messages with the given type.
func (r *Recorder) OfType(typ string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}
