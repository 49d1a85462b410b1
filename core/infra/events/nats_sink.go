package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultSubjectPrefix = "jobcore.events"

// Publisher is satisfied by bus.NatsBus.
type Publisher interface {
	Publish(subject string, msg proto.Message) error
}

// NatsSink publishes every event as a protobuf Struct on
// "<prefix>.<source>.<type>", e.g. jobcore.events.workflow.jobcompleted.
type NatsSink struct {
	pub    Publisher
	prefix string
}

// NewNatsSink wraps pub. An empty prefix selects "jobcore.events".
func NewNatsSink(pub Publisher, prefix string) *NatsSink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NatsSink{pub: pub, prefix: prefix}
}

// Emit encodes and publishes ev.
func (s *NatsSink) Emit(_ context.Context, ev Event) error {
	if s == nil || s.pub == nil {
		return fmt.Errorf("nats sink unavailable")
	}
	msg, err := ToStruct(ev)
	if err != nil {
		return err
	}
	return s.pub.Publish(Subject(s.prefix, ev), msg)
}

// Subject returns the subject an event is published on.
func Subject(prefix string, ev Event) string {
	source := string(ev.Source)
	if source == "" {
		source = "unknown"
	}
	return prefix + "." + source + "." + strings.ToLower(string(ev.Type))
}

// ToStruct converts ev into its wire form.
func ToStruct(ev Event) (*structpb.Struct, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode event fields: %w", err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct decodes the wire form produced by ToStruct.
func FromStruct(msg *structpb.Struct) (Event, error) {
	var ev Event
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return ev, fmt.Errorf("marshal event fields: %w", err)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}
