package notify

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lewtec/rotulador-bbox/annotation"
	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/geometry"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	return serveHub(t, NewHub(nil))
}

func serveHub(t *testing.T, hub *Hub) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	return ev
}

func TestHub_Broadcast(t *testing.T) {
	hub, srv := startHub(t)
	first := dial(t, srv)
	second := dial(t, srv)
	waitFor(t, func() bool { return hub.ClientCount() == 2 })

	rec := domain.NewImageRecord("cat")
	rec.Boxes = []domain.BoundingBox{
		{ID: 1, CreatedOrder: 1, Rect: geometry.Rect{X0: 0, Y0: 0, X1: 0.5, Y1: 0.5}, Tombstoned: true},
		{ID: 2, CreatedOrder: 2, Rect: geometry.Rect{X0: 0.5, Y0: 0.5, X1: 1, Y1: 1}},
	}
	handle := annotation.Handle{ImageID: "cat", Generation: 3}
	hub.UpdateOverlay(handle, rec, []int{2})

	for _, conn := range []*websocket.Conn{first, second} {
		ev := readEvent(t, conn)
		if ev.Type != EventUpdate || ev.Handle != handle {
			t.Errorf("event = %+v", ev)
		}
		if len(ev.Boxes) != 1 || ev.Boxes[0].ID != 2 || ev.Boxes[0].Rect != [4]float64{0.5, 0.5, 1, 1} {
			t.Errorf("Boxes = %+v, want only the active box", ev.Boxes)
		}
		if len(ev.Selected) != 1 || ev.Selected[0] != 2 {
			t.Errorf("Selected = %v", ev.Selected)
		}
		if ev.ReviewStatus == nil || *ev.ReviewStatus != domain.Unreviewed {
			t.Errorf("ReviewStatus = %v", ev.ReviewStatus)
		}
	}

	hub.SetOverlayVisible(handle, false)
	ev := readEvent(t, first)
	if ev.Type != EventVisible || ev.Visible == nil || *ev.Visible {
		t.Errorf("event = %+v, want visible=false", ev)
	}
}

func TestHub_Disconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHub_KeepsIdleClients(t *testing.T) {
	hub := NewHub(nil)
	hub.PongWait = 200 * time.Millisecond
	hub, srv := serveHub(t, hub)
	conn := dial(t, srv)
	go func() {
		// pongs are sent from inside the read loop
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	time.Sleep(5 * hub.PongWait)
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d after %v of silence, want 1", n, 5*hub.PongWait)
	}

	t.Run("clients that stop answering are dropped", func(t *testing.T) {
		silent := dial(t, srv)
		waitFor(t, func() bool { return hub.ClientCount() == 2 })
		waitFor(t, func() bool { return hub.ClientCount() == 1 })
		silent.Close()
	})
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.ReleaseOverlay(annotation.Handle{ImageID: "x", Generation: uint64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
}

func TestHub_DrivesSceneController(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	store := annotation.NewStore(annotation.NewWorkflow("default"), nil)
	scene := annotation.NewSceneController(store, hub, annotation.DefaultSelectionIndex(), nil)
	handles, err := scene.Present([]string{"cat"})
	if err != nil {
		t.Fatal(err)
	}
	ev := readEvent(t, conn)
	if ev.Type != EventBuild || ev.Handle != handles[0] {
		t.Errorf("event = %+v, want build of %v", ev, handles[0])
	}
}
