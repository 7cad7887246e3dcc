package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"finch/internal/broadcast"
	"finch/internal/queue"
)

type recordingController struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingController) record(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	return nil
}

func (c *recordingController) recorded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *recordingController) Play() error           { return c.record("play") }
func (c *recordingController) Pause() error          { return c.record("pause") }
func (c *recordingController) TogglePlayback() error { return c.record("toggle") }
func (c *recordingController) Stop() error           { return c.record("stop") }
func (c *recordingController) Next() error           { return c.record("next") }
func (c *recordingController) Previous() error       { return c.record("previous") }

func (c *recordingController) SeekMS(positionMS int) error {
	return c.record("seek")
}

func (c *recordingController) SetVolume(volume int) error {
	return c.record("volume")
}

func (c *recordingController) SetShuffle(enabled bool) error {
	return c.record("shuffle")
}

func (c *recordingController) SetRepeatMode(mode string) error {
	return c.record("repeat:" + mode)
}

func newTestSession(t *testing.T) (*Server, *recordingController, *websocket.Conn) {
	t.Helper()

	controller := &recordingController{}
	server := NewServer(controller, discardLogger())

	httpServer := httptest.NewServer(http.HandlerFunc(server.handleWS))
	t.Cleanup(httpServer.Close)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return server, controller, conn
}

func TestCommandsReachController(t *testing.T) {
	t.Parallel()

	_, controller, conn := newTestSession(t)
	ctx := context.Background()

	commands := []Command{
		{Action: "play"},
		{Action: "seek", PositionMS: 42_000},
		{Action: "repeat", Mode: "all"},
	}
	for _, cmd := range commands {
		if err := wsjson.Write(ctx, conn, cmd); err != nil {
			t.Fatalf("write command: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	want := []string{"play", "seek", "repeat:all"}
	for time.Now().Before(deadline) {
		if equalStrings(controller.recorded(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected calls %v, got %v", want, controller.recorded())
}

func TestUnknownCommandReturnsError(t *testing.T) {
	t.Parallel()

	_, _, conn := newTestSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, Command{Action: "explode"}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	var reply message
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != "error" || reply.Error == "" {
		t.Fatalf("expected error reply, got %+v", reply)
	}
}

func TestSnapshotPushedToConnectedClients(t *testing.T) {
	t.Parallel()

	server, _, conn := newTestSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot := broadcast.Snapshot{
		Song:       &queue.Song{UniqueID: "u1", Title: "Track"},
		PositionMS: 1_000,
		Status:     "playing",
	}
	if err := server.Notify(snapshot); err != nil {
		t.Fatalf("notify: %v", err)
	}

	var reply message
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("read state push: %v", err)
	}
	if reply.Type != "state" || reply.Snapshot == nil {
		t.Fatalf("expected state push, got %+v", reply)
	}
	if reply.Snapshot.Song == nil || reply.Snapshot.Song.UniqueID != "u1" {
		t.Fatalf("expected song in snapshot, got %+v", reply.Snapshot)
	}
}

func TestSnapshotSentOnConnect(t *testing.T) {
	t.Parallel()

	controller := &recordingController{}
	server := NewServer(controller, discardLogger())

	if err := server.Notify(broadcast.Snapshot{Status: "paused"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	httpServer := httptest.NewServer(http.HandlerFunc(server.handleWS))
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var reply message
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if reply.Type != "state" || reply.Snapshot == nil || reply.Snapshot.Status != "paused" {
		t.Fatalf("expected last known state on connect, got %+v", reply)
	}
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	server := NewServer(&recordingController{}, discardLogger())
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start server: %v", err)
	}
	if server.Addr() == "" {
		t.Fatalf("expected bound address")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("stop server: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
