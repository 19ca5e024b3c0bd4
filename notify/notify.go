// Package notify carries named, structured events to the application
// layer that consumes media session state.
package notify

import (
	"encoding/json"
	"errors"
)

// Event is a named message. Payload is encoded as JSON by sinks that
// cross a process boundary.
type Event struct {
	Name    string
	Payload any
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name    string `json:"name"`
		Payload any    `json:"payload"`
	}{
		Name:    e.Name,
		Payload: e.Payload,
	})
}

// Channel accepts events. Emit must not block on network I/O; it is
// called from the serialized primary queue.
type Channel interface {
	Emit(Event)
}

// ChannelFunc adapts a function to a Channel.
type ChannelFunc func(Event)

func (f ChannelFunc) Emit(e Event) { f(e) }

// Multi fans every event out to each channel in order.
type Multi []Channel

func (m Multi) Emit(e Event) {
	for _, c := range m {
		c.Emit(e)
	}
}

// Close closes every member that has a Close method and joins the errors.
func (m Multi) Close() error {
	var errs []error
	for _, c := range m {
		if cl, ok := c.(interface{ Close() error }); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
