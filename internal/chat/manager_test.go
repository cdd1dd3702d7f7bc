package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/marketing-hub/internal/events"
)

func newTestManager(conns *connFactory, msgs *memMessages) *SessionManager {
	return NewSessionManager(ManagerConfig{
		NewConn: conns.New,
		Store:   msgs,
		Token:   "tok",
	})
}

func TestSessionManagerOpenReturnsSameSession(t *testing.T) {
	t.Parallel()

	conns := &connFactory{}
	msgs := newMemMessages()
	sm := newTestManager(conns, msgs)
	defer sm.CloseAll()

	var wg sync.WaitGroup
	got := make([]*Session, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = sm.Open(context.Background(), "user-1", "tab-1")
		}(i)
	}
	wg.Wait()

	for _, s := range got[1:] {
		if s != got[0] {
			t.Fatal("Open returned different sessions for the same tab")
		}
	}
	if conns.count() != 1 {
		t.Errorf("connections created = %d, want 1", conns.count())
	}
	if n := len(msgs.stored("user-1", "tab-1")); n != 1 {
		t.Errorf("stored greetings = %d, want 1", n)
	}
	if sm.Token() != "tok" {
		t.Errorf("Token = %q", sm.Token())
	}
}

func TestSessionManagerSeparatesTabs(t *testing.T) {
	t.Parallel()

	sm := newTestManager(&connFactory{}, newMemMessages())
	defer sm.CloseAll()

	a := sm.Open(context.Background(), "user-1", "tab-1")
	b := sm.Open(context.Background(), "user-1", "tab-2")
	if a == b {
		t.Fatal("tabs must get their own session")
	}
	if a.Memory() != b.Memory() {
		t.Error("tabs of one user must share memory")
	}
	if sm.Len() != 2 {
		t.Errorf("Len = %d, want 2", sm.Len())
	}
}

func TestSessionManagerReleaseKeepsAttachedSessions(t *testing.T) {
	t.Parallel()

	conns := &connFactory{}
	sm := newTestManager(conns, newMemMessages())
	defer sm.CloseAll()

	s := sm.Open(context.Background(), "user-1", "tab-1")
	detach := s.Attach(func(Outbound) {})

	sm.Release("user-1", "tab-1")
	if sm.GetActive("user-1", "tab-1") == nil {
		t.Fatal("attached session released")
	}

	detach()
	sm.Release("user-1", "tab-1")
	if sm.GetActive("user-1", "tab-1") != nil {
		t.Fatal("detached session not released")
	}
	if !conns.last().isClosed() {
		t.Error("released session did not close its connection")
	}
}

func TestSessionManagerSweepIdle(t *testing.T) {
	t.Parallel()

	sm := newTestManager(&connFactory{}, newMemMessages())
	defer sm.CloseAll()

	sm.Open(context.Background(), "user-1", "tab-1")
	busy := sm.Open(context.Background(), "user-2", "tab-1")
	detach := busy.Attach(func(Outbound) {})
	defer detach()

	time.Sleep(5 * time.Millisecond)
	if n := sm.SweepIdle(time.Millisecond); n != 1 {
		t.Fatalf("SweepIdle closed %d, want 1", n)
	}
	if sm.GetActive("user-1", "tab-1") != nil {
		t.Error("idle session survived")
	}
	if sm.GetActive("user-2", "tab-1") != busy {
		t.Error("attached session swept")
	}
}

func TestSessionManagerNotifyAndConsume(t *testing.T) {
	t.Parallel()

	sm := newTestManager(&connFactory{}, newMemMessages())
	defer sm.CloseAll()

	a := sm.Open(context.Background(), "user-1", "tab-1")
	b := sm.Open(context.Background(), "user-2", "tab-1")

	ch := make(chan events.Event, 2)
	ch <- events.PaymentEvent(events.KindPaymentCompleted, "user-1",
		events.Payment{TransactionID: "tx", Amount: "99.00", Currency: "SAR"}, time.Now())
	ch <- events.DeploymentEvent(events.KindDeploymentFailed,
		events.Deployment{Project: "hub", Environment: "staging", Status: "FAILED"}, time.Now())
	close(ch)

	sm.Consume(context.Background(), ch)

	if a.History().Unread() != 2 {
		t.Errorf("user-1 unread = %d, want 2", a.History().Unread())
	}
	if b.History().Unread() != 1 {
		t.Errorf("user-2 unread = %d, want 1", b.History().Unread())
	}
}

func TestSessionManagerCloseSession(t *testing.T) {
	t.Parallel()

	conns := &connFactory{}
	sm := newTestManager(conns, newMemMessages())
	defer sm.CloseAll()

	sm.Open(context.Background(), "user-1", "tab-1")
	sm.Open(context.Background(), "user-1", "tab-2")
	sm.CloseSession("user-1")

	if sm.Len() != 0 {
		t.Errorf("Len = %d, want 0", sm.Len())
	}
	for _, c := range conns.conns {
		if !c.isClosed() {
			t.Error("connection left open")
		}
	}
}
