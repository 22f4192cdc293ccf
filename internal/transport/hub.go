// Package transport is the in-process seam between the orchestrator and the
// cleaner agents. The wire mechanics of a remote deployment (persistent
// reconnecting connection per agent) live outside this package; a remote
// bridge registers with the hub exactly the way the bundled local agent does.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrNoAgents is returned when a command is sent with no agent connected.
var ErrNoAgents = errors.New("no cleaner agent connected")

// Command names understood by agents.
const (
	CmdDeleteFile = "delete_file"
	CmdCancelJob  = "cancel_job"
)

// Command is one instruction sent to every connected agent.
type Command struct {
	Name         string `json:"name"`
	JobID        int64  `json:"job_id"`
	FileID       int64  `json:"file_id,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	Category     string `json:"category,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty"`
}

// Confirmation is an agent's report of one executed command. Delivery is
// at-least-once: the same (JobID, FileID) pair may arrive more than once and
// out of dispatch order.
type Confirmation struct {
	JobID       int64  `json:"job_id"`
	FileID      int64  `json:"file_id"`
	Success     bool   `json:"success"`
	ArchivePath string `json:"archive_path,omitempty"`
	Error       string `json:"error,omitempty"`
	WasDryRun   bool   `json:"was_dry_run,omitempty"`
}

// ConfirmHandler consumes confirmations funnelled through the hub.
type ConfirmHandler func(Confirmation)

// commandQueueSize bounds the per-agent backlog. A full queue drops the
// command for that agent; the watchdog re-dispatches whatever never confirms.
const commandQueueSize = 256

// AgentConn is one registered agent's end of the hub.
type AgentConn struct {
	ID       string
	Name     string
	hub      *Hub
	commands chan Command
}

// Commands is the channel the agent consumes.
func (c *AgentConn) Commands() <-chan Command {
	return c.commands
}

// Confirm reports a command outcome back through the hub.
func (c *AgentConn) Confirm(conf Confirmation) {
	c.hub.deliver(conf)
}

// Close unregisters the connection and closes its command channel.
func (c *AgentConn) Close() {
	c.hub.unregister(c.ID)
}

// Hub tracks connected agents and fans commands out to all of them.
// Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*AgentConn
	handler ConfirmHandler
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*AgentConn)}
}

// OnConfirm installs the confirmation handler. Must be set before agents
// start confirming; later confirmations with no handler are dropped with a
// log line.
func (h *Hub) OnConfirm(fn ConfirmHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Register attaches an agent and returns its connection.
func (h *Hub) Register(name string) *AgentConn {
	conn := &AgentConn{
		ID:       uuid.NewString(),
		Name:     name,
		hub:      h,
		commands: make(chan Command, commandQueueSize),
	}
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	slog.Info("agent connected", "agent", name, "conn_id", conn.ID)
	return conn
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok {
		close(conn.commands)
		slog.Info("agent disconnected", "agent", conn.Name, "conn_id", id)
	}
}

// ConnectedAgentCount returns the number of registered agents.
func (h *Hub) ConnectedAgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendCommand fans cmd out to every connected agent. Returns ErrNoAgents
// when none is registered. An agent whose queue is full misses this
// delivery; at-least-once semantics come from watchdog re-dispatch, not from
// blocking here.
func (h *Hub) SendCommand(cmd Command) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.conns) == 0 {
		return ErrNoAgents
	}
	for _, conn := range h.conns {
		select {
		case conn.commands <- cmd:
		default:
			slog.Warn("agent command queue full, dropping",
				"agent", conn.Name, "command", cmd.Name, "job_id", cmd.JobID, "file_id", cmd.FileID)
		}
	}
	return nil
}

func (h *Hub) deliver(conf Confirmation) {
	h.mu.RLock()
	fn := h.handler
	h.mu.RUnlock()

	if fn == nil {
		slog.Warn("confirmation with no handler installed",
			"job_id", conf.JobID, "file_id", conf.FileID)
		return
	}
	fn(conf)
}

// String implements fmt.Stringer for log readability.
func (c Command) String() string {
	return fmt.Sprintf("%s(job=%d file=%d)", c.Name, c.JobID, c.FileID)
}
