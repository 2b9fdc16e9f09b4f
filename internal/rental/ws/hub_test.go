package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rentalBack/internal/rental/freshness"
	"rentalBack/internal/rental/listen"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/seen"
	"rentalBack/internal/rental/store/memstore"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

type stubRemover struct {
	calls chan string
	err   error
}

func (s *stubRemover) RemoveFromList(_ context.Context, id, actorUID string) (models.Reservation, error) {
	s.calls <- actorUID + "/" + id
	if s.err != nil {
		return models.Reservation{}, s.err
	}
	return models.Reservation{ID: id}, nil
}

type fixture struct {
	st      *memstore.Store
	hub     *Hub
	remover *stubRemover
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	svc := seen.NewService(st, st, nopLogger{})
	svc.RegisterDefaults(st)
	mux := listen.NewMux(st, listen.MuxConfig{ResubscribeMin: 5 * time.Millisecond, ResubscribeMax: 20 * time.Millisecond}, nopLogger{})
	agg := listen.NewAggregator(mux, listen.Config{}, nil)
	remover := &stubRemover{calls: make(chan string, 1)}
	hub := NewHub(agg, st, st, svc, remover, freshness.Config{}, nil, nopLogger{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("uid"))
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{st: st, hub: hub, remover: remover, srv: srv}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) create(t *testing.T) models.Reservation {
	t.Helper()
	r, err := f.st.CreateReservation(context.Background(), models.Reservation{
		ItemOwnerUID: "o",
		RenterUID:    "r",
		ItemID:       "item",
		Kind:         models.KindRental,
		StartDate:    "2026-03-01",
		EndDate:      "2026-03-03",
		Total:        "20",
		Status:       models.StatusRequested,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

// readUntil returns the first frame matching match, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if match(f) {
			return f
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestViewCarriesFreshnessAndClearsOnMarkSeen(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	conn := f.dial(t, "uid=o&view=owner")

	view := readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" && len(fr.Items) == 1 })
	if view.Items[0].ID != r.ID || !view.Items[0].IsNew || !view.HasNew {
		t.Fatalf("request awaiting the owner must be new, got %+v", view)
	}

	send(t, conn, map[string]string{"type": "mark_seen", "category": models.CategoryReservations})
	readUntil(t, conn, func(fr Frame) bool {
		return fr.Type == "view" && len(fr.Items) == 1 && !fr.Items[0].IsNew && !fr.HasNew
	})
	readUntil(t, conn, func(fr Frame) bool {
		return fr.Type == "badge" && fr.Counts[models.CategoryReservations] == 0
	})

	wm, err := f.st.GetWatermark(context.Background(), "o")
	if err != nil {
		t.Fatalf("GetWatermark: %v", err)
	}
	if at, ok := wm.LastSeen(models.CategoryReservations); !ok || !at.Equal(r.UpdatedAt) {
		t.Fatalf("watermark must reach the request's updatedAt, got %v", wm.LastSeenAt)
	}
}

func TestRenterDoesNotSeeRequestAsNew(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	conn := f.dial(t, "uid=r")

	view := readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" && len(fr.Items) == 1 })
	if view.Items[0].IsNew || view.HasNew {
		t.Fatalf("renter has nothing to do on a request, got %+v", view)
	}
}

func TestRemoveHidesImmediately(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)
	conn := f.dial(t, "uid=o")
	readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" && len(fr.Items) == 1 })

	send(t, conn, map[string]string{"type": "remove", "id": r.ID})
	readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" && len(fr.Items) == 0 })

	select {
	case got := <-f.remover.calls:
		if got != "o/"+r.ID {
			t.Fatalf("unexpected remove call %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remove was not forwarded")
	}
}

func TestFailedRemoveShowsRecordAgain(t *testing.T) {
	f := newFixture(t)
	f.remover.err = errors.New("store unavailable")
	r := f.create(t)
	conn := f.dial(t, "uid=o")
	readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" && len(fr.Items) == 1 })

	send(t, conn, map[string]string{"type": "remove", "id": r.ID})
	readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" && len(fr.Items) == 0 })
	fr := readUntil(t, conn, func(fr Frame) bool { return fr.Type == "error" })
	if fr.ID != r.ID || fr.Error != "remove failed" {
		t.Fatalf("unexpected error frame %+v", fr)
	}
	view := readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" && len(fr.Items) == 1 })
	if view.Items[0].ID != r.ID {
		t.Fatalf("expected %s back in the view, got %+v", r.ID, view.Items)
	}
}

func TestPingAndUnknownMessages(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "uid=o")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) == "pong" {
			break
		}
	}

	send(t, conn, map[string]string{"type": "mark_seen", "category": "likes"})
	fr := readUntil(t, conn, func(fr Frame) bool { return fr.Type == "error" })
	if fr.Error != "unknown category" {
		t.Fatalf("unexpected error frame %+v", fr)
	}
}

func TestRejectsBadRequestsBeforeUpgrade(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/?view=boss", nil), "o")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown view, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.hub.ServeWS(rec, httptest.NewRequest(http.MethodGet, "/", nil), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}
}

func TestDisconnectReleasesConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "uid=o")
	readUntil(t, conn, func(fr Frame) bool { return fr.Type == "view" })
	if f.hub.Connections() != 1 {
		t.Fatalf("expected one connection, got %d", f.hub.Connections())
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Connections() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
