package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/index"
	"github.com/gatherkit/gather-go/planner"
	"github.com/gatherkit/gather-go/session"
	"github.com/gatherkit/gather-go/store/memory"
)

type idleIndex struct{}

func (idleIndex) Upsert(context.Context, core.Event) error { return nil }
func (idleIndex) Query(context.Context, string, int, index.Filter) ([]index.Match, error) {
	return nil, nil
}
func (idleIndex) Delete(context.Context, string) error { return nil }
func (idleIndex) Close() error                         { return nil }

type cannedInterpreter struct{}

func (cannedInterpreter) Interpret(context.Context, *core.SessionState, string, string) (core.Intent, error) {
	return core.Intent{Kind: core.IntentSmalltalk, Reply: "hello there"}, nil
}

func startTestServer(t *testing.T) *Server {
	t.Helper()
	stores := memory.New()
	p := planner.New(cannedInterpreter{}, idleIndex{}, stores.Availability(), stores.Users(), planner.Config{})
	m := session.NewManager(p, stores.Sessions())

	srv := NewServer(m, "127.0.0.1:0")
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func TestRoundTrip(t *testing.T) {
	srv := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := Frame{ConversationID: "conv", SenderID: "alice", Text: "hi"}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reply Reply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != string(planner.OutputMessage) || reply.Text != "hello there" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestMissingIdentifiersRejected(t *testing.T) {
	srv := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Frame{Text: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var reply Reply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != "error" || reply.Error == "" {
		t.Errorf("expected an error reply, got %+v", reply)
	}
}
