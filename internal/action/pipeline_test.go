package action

import (
	"errors"
	"testing"
	"time"

	"github.com/DGGua/oicq/internal/onebot"
)

func TestApplyAckLiteral(t *testing.T) {
	sess := newFakeSession()
	p := NewPipeline(NewRegistry(sess), NewQueue(0), nil)

	ack, err := p.Apply("sendPrivateMsg", map[string]any{"user_id": float64(1), "message": "hi"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if string(ack) != onebot.AsyncAck {
		t.Fatalf("ack = %s, want %s", ack, onebot.AsyncAck)
	}

	select {
	case call := <-sess.calls:
		if call.kind != "private" || call.target != 1 {
			t.Fatalf("call = %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("queued invocation never ran")
	}
}

func TestApplyNormalizesPath(t *testing.T) {
	sess := newFakeSession()
	p := NewPipeline(NewRegistry(sess), NewQueue(0), nil)

	if _, err := p.Apply("/sendGroupMsg", map[string]any{"group_id": float64(-9), "message": "x"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	select {
	case call := <-sess.calls:
		if call.kind != "group" || call.target != -9 {
			t.Fatalf("call = %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("queued invocation never ran")
	}

	// The path spelling is not translated; snake_case misses the table.
	if _, err := p.Apply("/send_group_msg", map[string]any{"group_id": float64(-9)}); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("err = %v, want ErrActionNotFound for snake_case path", err)
	}
}

func TestApplyUnknownAction(t *testing.T) {
	p := NewPipeline(NewRegistry(newFakeSession()), NewQueue(0), nil)

	ack, err := p.Apply("setGroupKick", map[string]any{})
	if !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("err = %v, want ErrActionNotFound", err)
	}
	if ack != nil {
		t.Fatalf("ack = %s, want nil on failure", ack)
	}
}
