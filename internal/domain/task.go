package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TaskID is the opaque unique identifier of one generation request.
type TaskID string

// Task is one generation request with its parameters and owning principal.
// A task is created on submission and immutable thereafter; the dispatch
// and event layers move and persist it verbatim.
type Task struct {
	ID         TaskID `json:"task_id"`
	Parameters Params `json:"parameters"`
	User       User   `json:"user"`
}

// NewTask creates a task with a fresh id for the given parameters and
// requesting principal.
func NewTask(params Params, user User) Task {
	return Task{
		ID:         TaskID(uuid.New().String()),
		Parameters: params,
		User:       user,
	}
}

// taskWire is the JSON shape of a task; Parameters needs the tagged codec.
type taskWire struct {
	ID         TaskID          `json:"task_id"`
	Parameters json.RawMessage `json:"parameters"`
	User       User            `json:"user"`
}

// MarshalJSON implements json.Marshaler.
func (t Task) MarshalJSON() ([]byte, error) {
	params, err := MarshalParams(t.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encoding task parameters: %w", err)
	}
	return json.Marshal(taskWire{
		ID:         t.ID,
		Parameters: params,
		User:       t.User,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Task) UnmarshalJSON(data []byte) error {
	var wire taskWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	params, err := UnmarshalParams(wire.Parameters)
	if err != nil {
		return fmt.Errorf("decoding task parameters: %w", err)
	}
	t.ID = wire.ID
	t.Parameters = params
	t.User = wire.User
	return nil
}
