// Package interactive provides the interactive command shell for
// rt-probe.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/parcelview/realtime-go/pkg/connection"
	"github.com/parcelview/realtime-go/pkg/session"
	"github.com/parcelview/realtime-go/pkg/telemetry"
	"github.com/parcelview/realtime-go/pkg/transport"
	"github.com/parcelview/realtime-go/pkg/wire"
)

// Config wires the shell to its collaborators.
type Config struct {
	// Connection is the base manager configuration. The shell rebuilds
	// the manager from it when the user switches transports.
	Connection connection.Config

	// Batcher records telemetry from the shell. May be nil.
	Batcher *telemetry.Batcher

	// OnManager is called whenever the shell (re)builds its manager,
	// with the previous manager (nil on first build) and the new one.
	// Main uses this to re-point the metrics collector. May be nil.
	OnManager func(old, next *connection.Manager)
}

// Probe handles interactive mode for rt-probe.
type Probe struct {
	cfg Config
	rl  *readline.Instance

	mgr    *connection.Manager
	unsubs []func()
}

// New creates the interactive probe shell and its first manager.
func New(cfg Config) (*Probe, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	p := &Probe{cfg: cfg, rl: rl}
	if err := p.buildManager(nil); err != nil {
		rl.Close()
		return nil, err
	}
	return p, nil
}

// Stdout returns a writer that properly coordinates with the readline
// input. Use this for log output to avoid interfering with the prompt.
func (p *Probe) Stdout() io.Writer {
	return p.rl.Stdout()
}

// Manager returns the shell's current connection manager.
func (p *Probe) Manager() *connection.Manager {
	return p.mgr
}

// Close shuts down the current manager and its subscriptions. The
// readline instance is closed by Run.
func (p *Probe) Close() {
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil
	if p.mgr != nil {
		p.mgr.Close()
	}
}

// buildManager creates a manager from the base config, optionally with a
// different transport preference order, replacing any previous one.
func (p *Probe) buildManager(kinds []string) error {
	cfg := p.cfg.Connection
	if len(kinds) > 0 {
		cfg.Transports = kinds
	}
	next, err := connection.NewManager(cfg)
	if err != nil {
		return err
	}

	old := p.mgr
	if old != nil {
		for _, unsub := range p.unsubs {
			unsub()
		}
		p.unsubs = nil
		old.Close()
	}

	p.mgr = next
	p.unsubs = append(p.unsubs,
		next.OnStatusChange(p.onStatus),
		next.OnAny(p.onMessage))

	if p.cfg.OnManager != nil {
		p.cfg.OnManager(old, next)
	}
	return nil
}

func (p *Probe) onStatus(st connection.Status) {
	switch st.State {
	case connection.StateConnected:
		fmt.Fprintf(p.rl.Stdout(), "state: %s via %s\n", st.State, st.Stats.Transport)
		if p.cfg.Batcher != nil {
			p.cfg.Batcher.NotifyOnline()
		}
	default:
		fmt.Fprintf(p.rl.Stdout(), "state: %s\n", st.State)
	}
}

func (p *Probe) onMessage(env *wire.Envelope) {
	out := p.rl.Stdout()
	fmt.Fprintf(out, "<< %s", env.Type)
	if env.SessionID != "" {
		fmt.Fprintf(out, " session=%s", env.SessionID)
	}
	if env.UserID != "" {
		fmt.Fprintf(out, " user=%s", env.UserID)
	}
	if len(env.Payload) > 0 {
		fmt.Fprintf(out, " %s", env.Payload)
	}
	fmt.Fprintln(out)
}

// Run starts the interactive command loop. It returns when the user
// quits or ctx is cancelled.
func (p *Probe) Run(ctx context.Context, cancel context.CancelFunc) {
	defer p.rl.Close()

	p.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := p.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(p.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			p.printHelp()

		case "connect", "c":
			p.cmdConnect(args)

		case "send", "s":
			p.cmdSend(args)

		case "join", "j":
			p.cmdJoin(args)

		case "leave":
			p.cmdLeave()

		case "status":
			p.cmdStatus()

		case "stats":
			p.cmdStats()

		case "queue":
			p.cmdQueue()

		case "disconnect", "d":
			p.mgr.Disconnect()
			fmt.Fprintln(p.rl.Stdout(), "Disconnected")

		case "reconnect", "r":
			if err := p.mgr.Reconnect(); err != nil {
				fmt.Fprintf(p.rl.Stdout(), "Error: %v\n", err)
			}

		case "telemetry", "t":
			p.cmdTelemetry(args)

		case "flush":
			p.cmdFlush()

		case "quit", "exit", "q":
			fmt.Fprintln(p.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(p.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (p *Probe) printHelp() {
	fmt.Fprintln(p.rl.Stdout(), `
Probe Commands:
  Connection:
    connect [transport]   - Connect (optionally forcing websocket, sse or mux)
    disconnect            - Close the connection cleanly
    reconnect             - Reset the retry budget and reconnect
    status                - Show connection state and session
    stats                 - Show connection and telemetry counters
    queue                 - Show the offline queue depth

  Session:
    join <session> <user> [name] [role] - Join a collaboration session
    leave                               - Leave the current session

  Messaging:
    send <type> [json]    - Send an envelope (payload as raw JSON)

  Telemetry:
    telemetry <name> <value> - Record a metric sample
    flush                    - Flush buffered telemetry now

  quit / exit - Leave the shell`)
}

func (p *Probe) cmdConnect(args []string) {
	out := p.rl.Stdout()

	if len(args) > 0 {
		kind := strings.ToLower(args[0])
		switch kind {
		case transport.KindWebSocket, transport.KindSSE, transport.KindMux:
		default:
			fmt.Fprintf(out, "Unknown transport: %s (websocket, sse, mux)\n", kind)
			return
		}
		if err := p.buildManager(p.reorderTransports(kind)); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
	}

	if err := p.mgr.Connect(); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Connecting to %s ...\n", p.cfg.Connection.Endpoint)
}

// reorderTransports moves kind to the front of the configured preference
// order.
func (p *Probe) reorderTransports(kind string) []string {
	kinds := []string{kind}
	for _, k := range p.cfg.Connection.Transports {
		if k != kind {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (p *Probe) cmdSend(args []string) {
	out := p.rl.Stdout()
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: send <type> [json]")
		return
	}

	var payload json.RawMessage
	if len(args) > 1 {
		raw := strings.Join(args[1:], " ")
		if !json.Valid([]byte(raw)) {
			fmt.Fprintf(out, "Invalid JSON payload: %s\n", raw)
			return
		}
		payload = json.RawMessage(raw)
	}

	env := wire.NewMessage(args[0], payload)
	if sess := p.mgr.Status().Session; sess != nil {
		env.SessionID = sess.SessionID
	}

	status, err := p.mgr.SendEnvelope(env)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if status == connection.SendQueued {
		fmt.Fprintf(out, "%s (depth %d)\n", status, p.mgr.Status().Stats.QueueDepth)
	} else {
		fmt.Fprintln(out, status)
	}
}

func (p *Probe) cmdJoin(args []string) {
	out := p.rl.Stdout()
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: join <session> <user> [name] [role]")
		return
	}

	sc := session.Context{SessionID: args[0], UserID: args[1]}
	if len(args) > 2 {
		sc.UserName = args[2]
	}
	if len(args) > 3 {
		sc.Role = args[3]
	}

	p.mgr.SetSession(sc)
	if p.mgr.IsConnected() {
		// Already online: submit the join directly instead of waiting
		// for the next reconnect handshake.
		if _, err := p.mgr.SendEnvelope(sc.JoinEnvelope()); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
	}
	fmt.Fprintf(out, "Session %s as %s\n", sc.SessionID, sc.UserID)
}

func (p *Probe) cmdLeave() {
	out := p.rl.Stdout()
	sess := p.mgr.Status().Session
	if sess == nil {
		fmt.Fprintln(out, "Not in a session")
		return
	}
	if p.mgr.IsConnected() {
		if _, err := p.mgr.SendEnvelope(sess.LeaveEnvelope()); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
	p.mgr.ClearSession()
	fmt.Fprintf(out, "Left session %s\n", sess.SessionID)
}

func (p *Probe) cmdStatus() {
	out := p.rl.Stdout()
	st := p.mgr.Status()

	fmt.Fprintf(out, "State:     %s\n", st.State)
	fmt.Fprintf(out, "Endpoint:  %s\n", p.cfg.Connection.Endpoint)
	if st.Stats.Transport != "" {
		fmt.Fprintf(out, "Transport: %s", st.Stats.Transport)
		if st.Stats.Mechanism != "" && st.Stats.Mechanism != st.Stats.Transport {
			fmt.Fprintf(out, " (carrier: %s)", st.Stats.Mechanism)
		}
		fmt.Fprintln(out)
	}
	if !st.Stats.ConnectedSince.IsZero() {
		fmt.Fprintf(out, "Uptime:    %s\n", st.Stats.Uptime().Round(time.Second))
	}
	if st.Session != nil {
		fmt.Fprintf(out, "Session:   %s (user %s)\n", st.Session.SessionID, st.Session.UserID)
	} else {
		fmt.Fprintln(out, "Session:   none")
	}
}

func (p *Probe) cmdStats() {
	out := p.rl.Stdout()
	stats := p.mgr.Status().Stats

	fmt.Fprintf(out, "Messages:    %d sent, %d received\n", stats.MessagesSent, stats.MessagesReceived)
	fmt.Fprintf(out, "Reconnects:  %d (%d failed attempts)\n", stats.ReconnectCount, stats.FailedAttempts)
	fmt.Fprintf(out, "Queue:       %d buffered, %d dropped\n", stats.QueueDepth, stats.QueueDropped)
	if stats.LastLatency > 0 {
		fmt.Fprintf(out, "Latency:     %s last, %s avg\n",
			stats.LastLatency.Round(time.Millisecond), stats.AvgLatency.Round(time.Millisecond))
	}

	if p.cfg.Batcher != nil {
		ts := p.cfg.Batcher.Stats()
		fmt.Fprintf(out, "Telemetry:   %d buffered, %d batches sent, %d parked, %d dropped\n",
			ts.RecordsBuffered, ts.BatchesSent, ts.BatchesParked, ts.BatchesDropped)
	}
}

func (p *Probe) cmdQueue() {
	stats := p.mgr.Status().Stats
	fmt.Fprintf(p.rl.Stdout(), "Queue depth: %d (dropped %d)\n", stats.QueueDepth, stats.QueueDropped)
}

func (p *Probe) cmdTelemetry(args []string) {
	out := p.rl.Stdout()
	if p.cfg.Batcher == nil {
		fmt.Fprintln(out, "Telemetry not configured (set -telemetry or the config file)")
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: telemetry <name> <value>")
		return
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(out, "Invalid value: %s\n", args[1])
		return
	}
	p.cfg.Batcher.Record(args[0], value, nil)
	fmt.Fprintf(out, "Recorded %s=%g\n", args[0], value)
}

func (p *Probe) cmdFlush() {
	out := p.rl.Stdout()
	if p.cfg.Batcher == nil {
		fmt.Fprintln(out, "Telemetry not configured")
		return
	}
	p.cfg.Batcher.Flush()
	fmt.Fprintln(out, "Flush requested")
}
