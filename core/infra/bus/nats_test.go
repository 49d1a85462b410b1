package bus

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestNatsBusPublishErrors(t *testing.T) {
	var nilBus *NatsBus
	if err := nilBus.Publish("subj", &structpb.Struct{}); err != errNilBus {
		t.Fatalf("expected nil bus error, got %v", err)
	}
	b := &NatsBus{}
	if err := b.Publish("subj", &structpb.Struct{}); err != errNilBus {
		t.Fatalf("expected nil bus error for missing conn, got %v", err)
	}
}

func TestNatsBusSubscribeErrors(t *testing.T) {
	var nilBus *NatsBus
	err := nilBus.Subscribe("subj", func() proto.Message { return &structpb.Struct{} }, func(proto.Message) {})
	if err != errNilBus {
		t.Fatalf("expected nil bus error, got %v", err)
	}
}

func TestNatsBusStatusDefaults(t *testing.T) {
	var nilBus *NatsBus
	if nilBus.IsConnected() {
		t.Fatalf("nil bus should not report connected")
	}
	nilBus.Close()
}

func TestNewNatsBusUnreachable(t *testing.T) {
	if _, err := NewNatsBus("nats://127.0.0.1:1"); err == nil {
		t.Fatalf("expected dial error")
	}
}
