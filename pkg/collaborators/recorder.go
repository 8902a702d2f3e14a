package collaborators

import (
	"context"
	"sync"
)

// Operation names recorded by Recorder.
const (
	OpSend      = "send"
	OpSetStatus = "set_status"
	OpSetField  = "set_field"
	OpAddTag    = "add_tag"
	OpRemoveTag = "remove_tag"
)

// Call is one recorded collaborator invocation.
type Call struct {
	Op       string
	EntityID string
	Field    string
	Value    any
	Message  Message
}

// Recorder keeps collaborator calls in memory. It backs dry-run mode and tests.
// Failures queued with Fail are returned in order by the next calls of that operation.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	attempts map[string]int
	failures map[string][]error
}

func NewRecorder() *Recorder {
	return &Recorder{attempts: make(map[string]int), failures: make(map[string][]error)}
}

// Fail queues errors for the next calls of op. A nil entry lets that call succeed.
func (r *Recorder) Fail(op string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures[op] = append(r.failures[op], errs...)
}

// Calls returns a copy of every successful call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Call, len(r.calls))
	copy(out, r.calls)

	return out
}

// CallsFor returns the successful calls of op.
func (r *Recorder) CallsFor(op string) []Call {
	out := make([]Call, 0)

	for _, call := range r.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}

	return out
}

// Attempts counts every call of op, failed ones included.
func (r *Recorder) Attempts(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.attempts[op]
}

func (r *Recorder) record(call Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[call.Op]++

	if queued := r.failures[call.Op]; len(queued) > 0 {
		r.failures[call.Op] = queued[1:]

		if queued[0] != nil {
			return queued[0]
		}
	}

	r.calls = append(r.calls, call)

	return nil
}

func (r *Recorder) Send(_ context.Context, message Message) error {
	return r.record(Call{Op: OpSend, EntityID: message.EntityID, Message: message})
}

func (r *Recorder) SetStatus(_ context.Context, entityID, status string) error {
	return r.record(Call{Op: OpSetStatus, EntityID: entityID, Value: status})
}

func (r *Recorder) SetField(_ context.Context, entityID, field string, value any) error {
	return r.record(Call{Op: OpSetField, EntityID: entityID, Field: field, Value: value})
}

func (r *Recorder) AddTag(_ context.Context, entityID, tag string) error {
	return r.record(Call{Op: OpAddTag, EntityID: entityID, Value: tag})
}

func (r *Recorder) RemoveTag(_ context.Context, entityID, tag string) error {
	return r.record(Call{Op: OpRemoveTag, EntityID: entityID, Value: tag})
}
