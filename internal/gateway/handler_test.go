package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/focusroom/internal/store/memstore"
)

func newTestServer(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()
	h := NewHandler(memstore.New(), clockwork.NewRealClock(), DefaultConfig())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?username=" + username
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, typ CommandType, payload any) {
	t.Helper()
	cmd := Command{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		cmd.Payload = raw
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatal(err)
	}
}

// awaitEvent reads events until one of the wanted type arrives, skipping
// the room_state and chat pushes interleaved with command replies.
func awaitEvent(t *testing.T, conn *websocket.Conn, typ EventType) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 50; i++ {
		var ev struct {
			Type    EventType       `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("reading events while waiting for %q: %v", typ, err)
		}
		if ev.Type == typ {
			return ev.Payload
		}
	}
	t.Fatalf("no %q event within 50 messages", typ)
	return nil
}

func TestUpgradeRequiresUsername(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateAndJoinOverWebsocket(t *testing.T) {
	h, srv := newTestServer(t)

	host := dial(t, srv, "ana")
	sendCommand(t, host, CmdCreateSession, nil)

	var created SessionCreatedPayload
	if err := json.Unmarshal(awaitEvent(t, host, EventSessionCreated), &created); err != nil {
		t.Fatal(err)
	}
	if len(created.Code) != 3 {
		t.Fatalf("code = %q", created.Code)
	}
	if !h.InSession() {
		t.Fatal("handler should report an active session")
	}

	guest := dial(t, srv, "bo")
	sendCommand(t, guest, CmdJoinSession, JoinSessionPayload{Code: created.Code})

	var join JoinResultPayload
	if err := json.Unmarshal(awaitEvent(t, guest, EventJoinResult), &join); err != nil {
		t.Fatal(err)
	}
	if !join.Found || join.Code != created.Code {
		t.Fatalf("join result = %+v", join)
	}

	// The host sees the updated roster pushed as room state.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var state RoomStatePayload
		if err := json.Unmarshal(awaitEvent(t, host, EventRoomState), &state); err != nil {
			t.Fatal(err)
		}
		if len(state.Participants) == 2 {
			if !state.IsHost || state.Code != created.Code {
				t.Fatalf("room state = %+v", state)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("host never saw the two-entry roster")
		}
	}
}

func TestJoinUnknownCodeOverWebsocket(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dial(t, srv, "ana")
	sendCommand(t, conn, CmdJoinSession, JoinSessionPayload{Code: "QQQ"})

	var join JoinResultPayload
	if err := json.Unmarshal(awaitEvent(t, conn, EventJoinResult), &join); err != nil {
		t.Fatal(err)
	}
	if join.Found {
		t.Fatal("unknown code reported found")
	}
}

func TestChatOverWebsocket(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dial(t, srv, "ana")
	sendCommand(t, conn, CmdCreateSession, nil)
	awaitEvent(t, conn, EventSessionCreated)

	sendCommand(t, conn, CmdSendMessage, TextPayload{Text: "hello"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		var chat ChatPayload
		if err := json.Unmarshal(awaitEvent(t, conn, EventChat), &chat); err != nil {
			t.Fatal(err)
		}
		if len(chat.Groups) == 1 && len(chat.Groups[0].Messages) == 1 {
			if chat.Groups[0].SenderName != "ana" || chat.Groups[0].Messages[0].Text != "hello" {
				t.Fatalf("chat = %+v", chat)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message never arrived")
		}
	}
}

func TestLateEventAfterCloseIsDropped(t *testing.T) {
	h, srv := newTestServer(t)
	dial(t, srv, "ana")

	var cl *client
	deadline := time.Now().Add(2 * time.Second)
	for cl == nil {
		h.mu.Lock()
		for c := range h.clients {
			cl = c
		}
		h.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cl.close()

	// A notify from a torn-down coordinator or stream may still land after
	// close; it must be dropped, not panic on the closed send channel.
	cl.sendEvent(Event{Type: EventError, Payload: ErrorPayload{Message: "late"}})
	cl.pushRoomState()
}

func TestMalformedCommandReturnsError(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dial(t, srv, "ana")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	var errPayload ErrorPayload
	if err := json.Unmarshal(awaitEvent(t, conn, EventError), &errPayload); err != nil {
		t.Fatal(err)
	}
	if errPayload.Message == "" {
		t.Fatal("error event carried no message")
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	_, srv := newTestServer(t)

	conn := dial(t, srv, "ana")
	sendCommand(t, conn, CommandType("reboot"), nil)
	awaitEvent(t, conn, EventError)
}
