package ws

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func newTestHub(pingInterval, pongTimeout time.Duration) *Hub {
	return &Hub{
		sessions:     make(map[string]*Session),
		byUser:       make(map[uint]map[string]*Session),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

func startHubServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(handler))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return "ws://" + ln.Addr().String() + "/ws"
}

// dialHub connects a client whose read loop keeps the automatic pong
// replies to server pings flowing.
func dialHub(t *testing.T, url string) *fws.Conn {
	t.Helper()
	var conn *fws.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, _, err = fws.DefaultDialer.Dial(url, nil)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestHubHealthySessionOutlivesPongTimeout(t *testing.T) {
	hub := newTestHub(100*time.Millisecond, 500*time.Millisecond)

	readErr := make(chan error, 1)
	url := startHubServer(t, func(c *websocket.Conn) {
		hub.Register("sess-live", 1, c)
		defer hub.Unregister("sess-live")
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	})

	dialHub(t, url)
	waitFor(t, 2*time.Second, func() bool { return hub.Count() == 1 })

	// A peer that answers every ping must stay connected well past the
	// pong timeout; the deadline extends with each pong
	select {
	case err := <-readErr:
		t.Fatalf("healthy session's read loop died: %v", err)
	case <-time.After(1500 * time.Millisecond):
	}
	if !hub.UserOnline(1) {
		t.Error("expected session still registered")
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := newTestHub(time.Minute, 5*time.Minute)

	var next int32
	url := startHubServer(t, func(c *websocket.Conn) {
		id := fmt.Sprintf("sess-%d", atomic.AddInt32(&next, 1))
		hub.Register(id, 9, c)
		defer hub.Unregister(id)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})

	c1 := dialHub(t, url)
	dialHub(t, url)
	waitFor(t, 2*time.Second, func() bool { return hub.Count() == 2 })
	if !hub.UserOnline(9) {
		t.Error("expected user 9 online with two sessions")
	}

	c1.Close()
	waitFor(t, 2*time.Second, func() bool { return hub.Count() == 1 })
	if !hub.UserOnline(9) {
		t.Error("one closed tab must not take the user offline")
	}

	// Unregister of an unknown session is a no-op
	hub.Unregister("sess-404")
	if hub.Count() != 1 {
		t.Errorf("expected 1 session, got %d", hub.Count())
	}
}

func TestHubConcurrentWrites(t *testing.T) {
	hub := newTestHub(50*time.Millisecond, 5*time.Second)

	registered := make(chan struct{})
	release := make(chan struct{})
	url := startHubServer(t, func(c *websocket.Conn) {
		hub.Register("sess-busy", 3, c)
		defer hub.Unregister("sess-busy")
		close(registered)
		<-release
	})

	dialHub(t, url)
	<-registered

	// Presence fan-out, error replies, broadcasts, and pings all write the
	// same connection; every path must hold the session write lock
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				hub.SendToSession("sess-busy", map[string]interface{}{
					"type": "presence", "user_id": 7, "is_online": true,
				})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				hub.SendError("sess-busy", "invalid_message", "Invalid message format", "bad frame")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				hub.Broadcast(map[string]interface{}{
					"type": "presence", "user_id": 8, "is_online": false,
				})
			}
		}()
	}
	wg.Wait()
	close(release)

	if hub.Count() != 1 {
		t.Errorf("expected the session to survive concurrent writes, got %d", hub.Count())
	}
}
