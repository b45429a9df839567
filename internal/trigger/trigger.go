// Package trigger delivers trigger events from the rig's trigger hardware to
// the capture engine. The hardware announces each stimulation over a serial
// line; this package owns the port, parses the line protocol, and hands
// Events to a handler. Manual triggers arrive through the HTTP API instead
// and share the same Event type.
package trigger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one trigger occurrence.
type Event struct {
	// ID uniquely identifies the event for logging and the trigger ledger.
	ID string `json:"trigger_id"`
	// TimestampNanos is the trigger origin timestamp in unix nanoseconds.
	TimestampNanos int64 `json:"ts_ns"`
	// ObjectID names the tracked object that caused the trigger, when the
	// origin supplies one.
	ObjectID string `json:"object_id,omitempty"`
	// Source names where the event came from ("serial", "http", ...).
	Source string `json:"source"`
}

// NewEvent creates an event stamped with the given origin time. A zero
// timestamp means the origin did not supply one and host arrival time is
// used instead.
func NewEvent(tsNanos int64, objectID, source string) Event {
	if tsNanos == 0 {
		tsNanos = time.Now().UnixNano()
	}
	return Event{
		ID:             uuid.NewString(),
		TimestampNanos: tsNanos,
		ObjectID:       objectID,
		Source:         source,
	}
}

// serialLine is the JSON form some trigger firmware emits.
type serialLine struct {
	TriggerNanos int64  `json:"trigger_ns"`
	ObjectID     string `json:"obj_id"`
}

// ParseLine parses one line of the serial trigger protocol. Two forms are
// accepted:
//
//	TRIG[,<unix_ns>[,<object_id>]]
//	{"trigger_ns": <unix_ns>, "obj_id": "<id>"}
//
// Lines that are neither form are not trigger events and return ok=false.
func ParseLine(line string) (Event, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false, nil
	}

	if strings.HasPrefix(line, "{") {
		var msg serialLine
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return Event{}, false, fmt.Errorf("bad trigger JSON: %v", err)
		}
		return NewEvent(msg.TriggerNanos, msg.ObjectID, "serial"), true, nil
	}

	segments := strings.Split(line, ",")
	if segments[0] != "TRIG" {
		return Event{}, false, nil
	}

	var tsNanos int64
	var objectID string
	if len(segments) > 1 && segments[1] != "" {
		var err error
		tsNanos, err = strconv.ParseInt(segments[1], 10, 64)
		if err != nil {
			return Event{}, false, fmt.Errorf("bad trigger timestamp %q: %v", segments[1], err)
		}
	}
	if len(segments) > 2 {
		objectID = segments[2]
	}
	return NewEvent(tsNanos, objectID, "serial"), true, nil
}
