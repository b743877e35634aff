package session

import "testing"

func TestSSEManagerSharedSession(t *testing.T) {
	m := NewSSEManager(Config{}, testLogger())

	shared := m.SharedSession()
	if shared == nil {
		t.Fatal("no shared session")
	}
	if m.SharedSession() != shared {
		t.Error("shared session is not stable")
	}
}

func TestSSEManagerAttachDetach(t *testing.T) {
	m := NewSSEManager(Config{}, testLogger())

	a := &fakeStream{}
	b := &fakeStream{}
	m.AttachClient("c1", a)
	m.AttachClient("c2", b)
	if m.ClientCount() != 2 {
		t.Errorf("clients = %d", m.ClientCount())
	}

	// Re-attaching a client replaces and closes its previous connection.
	a2 := &fakeStream{}
	m.AttachClient("c1", a2)
	if !a.closed {
		t.Error("replaced connection left open")
	}
	if m.ClientCount() != 2 {
		t.Errorf("clients after replace = %d", m.ClientCount())
	}

	m.DetachClient("c2")
	if !b.closed {
		t.Error("detached connection left open")
	}
	if m.ClientCount() != 1 {
		t.Errorf("clients after detach = %d", m.ClientCount())
	}
	m.DetachClient("unknown") // no-op
}

func TestSSEManagerBroadcast(t *testing.T) {
	m := NewSSEManager(Config{}, testLogger())

	ok := &fakeStream{}
	dead := &fakeStream{reject: true}
	m.AttachClient("c1", ok)
	m.AttachClient("c2", dead)

	if got := m.Broadcast("data"); got != 1 {
		t.Errorf("delivered = %d, want 1", got)
	}
	if len(ok.sent) != 1 || ok.sent[0] != "data" {
		t.Errorf("sent = %v", ok.sent)
	}
}
