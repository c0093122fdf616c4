package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/wire"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

func readAll(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()

	var events []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.mtrace")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	logger.Log(FromMessage(t0, "peer-a", DirectionOut, &wire.NotifyRequest{
		SubscriptionID: 42,
		Elements:       []wire.DataElement{{Path: wire.Path{Profile: 1}, Version: 3, Data: int64(7)}},
		More:           true,
	}))
	logger.Log(StateChange(t0.Add(time.Second), "peer-a", StateEntitySubscription, "IDLE", "ESTABLISHED", "subscribe"))
	if logger.Events() != 2 {
		t.Errorf("Events() = %d, want 2", logger.Events())
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := readAll(t, path, Filter{})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	msg := events[0]
	if !msg.Timestamp.Equal(t0) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, t0)
	}
	if msg.SubscriptionID != 42 || msg.Category != CategoryMessage {
		t.Errorf("unexpected header: %+v", msg)
	}
	if msg.Message == nil || msg.Message.Type != wire.MsgNotifyRequest || msg.Message.Elements != 1 || !msg.Message.More {
		t.Errorf("unexpected message payload: %+v", msg.Message)
	}

	state := events[1]
	if state.StateChange == nil || state.StateChange.NewState != "ESTABLISHED" {
		t.Errorf("unexpected state payload: %+v", state.StateChange)
	}
}

func TestFileLoggerAppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.mtrace")
	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		logger.Log(Event{Timestamp: t0, PeerID: "p"})
		logger.Close()
	}
	if n := len(readAll(t, path, Filter{})); n != 2 {
		t.Errorf("got %d events, want 2", n)
	}
}

func TestFileLoggerRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.mtrace")
	logger, err := NewRotatingFileLogger(path, 64)
	if err != nil {
		t.Fatalf("NewRotatingFileLogger: %v", err)
	}
	for i := 0; i < 10; i++ {
		logger.Log(Event{Timestamp: t0, PeerID: "a-rather-long-peer-identifier"})
	}
	logger.Close()

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	current := readAll(t, path, Filter{})
	rotated := readAll(t, path+".1", Filter{})
	if len(current) == 0 || len(rotated) == 0 {
		t.Errorf("current=%d rotated=%d, want both non-empty", len(current), len(rotated))
	}
}

func TestFileLoggerConcurrentAndClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.mtrace")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				logger.Log(Event{Timestamp: t0, PeerID: "p"})
			}
		}()
	}
	wg.Wait()

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	logger.Log(Event{Timestamp: t0})

	if n := len(readAll(t, path, Filter{})); n != 200 {
		t.Errorf("got %d events, want 200", n)
	}
}

func TestReaderFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.mtrace")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	logger.Log(FromMessage(t0, "a", DirectionIn, &wire.SubscribeRequest{SubscriptionID: 1}))
	logger.Log(FromMessage(t0.Add(time.Second), "b", DirectionOut, &wire.Heartbeat{SubscriptionID: 2}))
	logger.Log(FromMessage(t0.Add(2*time.Second), "a", DirectionOut, &wire.Block{SessionID: []byte{1}, Counter: 3, Data: []byte("abc")}))
	logger.Log(ErrorEvent(t0.Add(3*time.Second), "a", LayerEngine, "notify", &wire.StatusError{Status: wire.StatusSchemaMismatch}))
	logger.Close()

	out := DirectionOut
	transfer := CategoryTransfer
	end := t0.Add(2 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"peer", Filter{PeerID: "a"}, 3},
		{"subscription", Filter{SubscriptionID: 2}, 1},
		{"direction", Filter{Direction: &out}, 2},
		{"category", Filter{Category: &transfer}, 1},
		{"time end exclusive", Filter{TimeEnd: &end}, 2},
		{"combined", Filter{PeerID: "a", Direction: &out}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(readAll(t, path, tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}
