package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"authcore.org/internal/ids"
)

// Kind names what an operation does to its table.
type Kind string

const (
	KindCreate       Kind = "create"
	KindUpdate       Kind = "update"
	KindDelete       Kind = "delete"
	KindDeleteManyBy Kind = "delete_many_by"
)

// Fields maps column names to values.
type Fields map[string]any

// Operation is one durable write. Key addresses the row for update and delete;
// for delete_many_by it is the equality predicate.
type Operation struct {
	Kind  Kind   `json:"type"`
	Table string `json:"tablename"`
	Key   Fields `json:"id,omitempty"`
	Data  Fields `json:"data,omitempty"`
}

// Create inserts data into table.
func Create(table string, data Fields) Operation {
	return Operation{Kind: KindCreate, Table: table, Data: data}
}

// Update sets data on the row addressed by key.
func Update(table string, key, data Fields) Operation {
	return Operation{Kind: KindUpdate, Table: table, Key: key, Data: data}
}

// Delete removes the row addressed by key.
func Delete(table string, key Fields) Operation {
	return Operation{Kind: KindDelete, Table: table, Key: key}
}

// DeleteManyBy removes every row matching where.
func DeleteManyBy(table string, where Fields) Operation {
	return Operation{Kind: KindDeleteManyBy, Table: table, Key: where}
}

// Processor is the only write path: it accepts a batch and makes it durable,
// synchronously or eventually depending on the implementation.
type Processor interface {
	Process(ctx context.Context, ops []Operation) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, ops []Operation) error

func (f ProcessorFunc) Process(ctx context.Context, ops []Operation) error { return f(ctx, ops) }

// Kinds lists the operation kinds of a batch, in order.
func Kinds(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op.Kind)
	}
	return out
}

// Message is the unit the queue carries and the worker applies atomically.
type Message struct {
	ID         string      `json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	Operations []Operation `json:"operations"`
}

// NewMessage wraps a batch with a fresh id.
func NewMessage(ops []Operation, now time.Time) Message {
	return Message{ID: ids.NewAt(now), CreatedAt: now.UTC(), Operations: ops}
}

// Encode serializes a message for the queue.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a queued message and restores column types.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("outbox: decode message: %w", err)
	}
	if m.ID == "" {
		return Message{}, fmt.Errorf("%w: message id is required", ErrInvalidOperation)
	}
	for i, op := range m.Operations {
		norm, err := op.Normalize()
		if err != nil {
			return Message{}, fmt.Errorf("outbox: message %s operation %d: %w", m.ID, i, err)
		}
		m.Operations[i] = norm
	}
	return m, nil
}
