package transport

import (
	"errors"
	"testing"
	"time"
)

func TestSendCommandNoAgents(t *testing.T) {
	h := NewHub()
	err := h.SendCommand(Command{Name: CmdDeleteFile, JobID: 1})
	if !errors.Is(err, ErrNoAgents) {
		t.Errorf("error = %v, want ErrNoAgents", err)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	h := NewHub()
	conn := h.Register("agent-a")
	defer conn.Close()

	want := Command{Name: CmdDeleteFile, JobID: 3, FileID: 9, FilePath: "/a/b.jpg", ExpectedHash: "ff00"}
	if err := h.SendCommand(want); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	select {
	case got := <-conn.Commands():
		if got != want {
			t.Errorf("received %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("command never delivered")
	}
}

func TestFanOutToAllAgents(t *testing.T) {
	h := NewHub()
	a := h.Register("agent-a")
	b := h.Register("agent-b")
	defer a.Close()
	defer b.Close()

	if n := h.ConnectedAgentCount(); n != 2 {
		t.Fatalf("connected = %d, want 2", n)
	}
	if err := h.SendCommand(Command{Name: CmdCancelJob, JobID: 5}); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*AgentConn{a, b} {
		select {
		case cmd := <-conn.Commands():
			if cmd.JobID != 5 {
				t.Errorf("%s received job %d, want 5", conn.Name, cmd.JobID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s never received the command", conn.Name)
		}
	}
}

func TestConfirmReachesHandler(t *testing.T) {
	h := NewHub()
	var got *Confirmation
	h.OnConfirm(func(c Confirmation) { got = &c })

	conn := h.Register("agent-a")
	defer conn.Close()

	conn.Confirm(Confirmation{JobID: 7, FileID: 2, Success: true, ArchivePath: "x/y.jpg"})
	if got == nil {
		t.Fatal("handler never invoked")
	}
	if got.JobID != 7 || got.FileID != 2 || !got.Success {
		t.Errorf("handler received %+v", got)
	}
}

func TestConfirmWithoutHandlerIsDropped(t *testing.T) {
	h := NewHub()
	conn := h.Register("agent-a")
	defer conn.Close()
	// Must not panic.
	conn.Confirm(Confirmation{JobID: 1, FileID: 1})
}

func TestCloseUnregisters(t *testing.T) {
	h := NewHub()
	conn := h.Register("agent-a")
	conn.Close()

	if n := h.ConnectedAgentCount(); n != 0 {
		t.Errorf("connected = %d, want 0", n)
	}
	if err := h.SendCommand(Command{Name: CmdDeleteFile, JobID: 1}); !errors.Is(err, ErrNoAgents) {
		t.Errorf("error = %v, want ErrNoAgents", err)
	}
	if _, ok := <-conn.Commands(); ok {
		t.Error("command channel not closed")
	}
	// Double close is a no-op.
	conn.Close()
}
