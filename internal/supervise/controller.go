// Package supervise runs the per-tab process controller: a state machine
// coordinating spawn, run, graceful stop, force-kill, restart, and orphan
// cleanup, driven by the host's supervision ticks.
package supervise

import (
	"fmt"
	"syscall"
	"time"

	"github.com/google/uuid"

	"devmux/internal/ingest"
	"devmux/internal/input"
	"devmux/internal/proctree"
	"devmux/internal/spawn"
	"devmux/internal/vterm"
)

// State is the controller's lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	ForceKilling
	Terminated
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case ForceKilling:
		return "force-killing"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

const (
	// DefaultGrace is how long a SIGTERM'd child gets before SIGKILL.
	DefaultGrace = 5 * time.Second
	// waitingInterval throttles the "Waiting..." status line.
	waitingInterval = 40 * time.Millisecond
)

// Config describes one tab's command.
type Config struct {
	Name       string
	Argv       []string
	Env        map[string]string
	Autostart  bool
	Scrollback int
	Cols, Rows int
}

// Controller owns exactly one child at a time and everything derived
// from its output. One instance exists per tab; nothing is shared
// between controllers. All methods must be called from the host's tick
// goroutine.
type Controller struct {
	ID   string
	Name string

	argv      []string
	env       map[string]string
	autostart bool

	cols, rows int

	screen   *vterm.Screen
	parser   *vterm.Parser
	ingestor *ingest.Ingestor
	router   *input.Router

	child *spawn.Child
	state State
	mode  input.Mode
	focused bool

	// Grace is the SIGTERM-to-SIGKILL window; tests shorten it.
	Grace time.Duration

	stopInitiatedAt time.Time
	stopSnapshot    []int
	lastWaiting     time.Time
	readFailed      bool

	// afterTerminate runs FIFO, exactly once, on the Terminated
	// transition, then is cleared.
	afterTerminate []func()

	// OnStateChange, when set, observes every state transition.
	OnStateChange func(State)

	// OSCReply, when set, inspects each raw output chunk and returns
	// bytes to write back to the child (terminal color query replies).
	OSCReply func(chunk []byte) []byte

	// autostart is suspended after an explicit stop or a failed spawn
	// so the tab does not fight the operator (or spin on a bad argv);
	// start and toggle lift the suspension.
	autostartSuspended bool

	readBuf []byte
}

// New builds a controller for one tab. It does not start the child.
func New(cfg Config) *Controller {
	cols, rows := cfg.Cols, cfg.Rows
	if cols < 1 {
		cols = 80
	}
	if rows < 1 {
		rows = 24
	}
	scr := vterm.NewScreen(cols, rows, cfg.Scrollback)
	parser := vterm.NewParser(scr)
	c := &Controller{
		ID:        uuid.New().String(),
		Name:      cfg.Name,
		argv:      cfg.Argv,
		env:       cfg.Env,
		autostart: cfg.Autostart,
		cols:      cols,
		rows:      rows,
		screen:    scr,
		parser:    parser,
		ingestor:  ingest.New(parser),
		router:    &input.Router{Width: cols},
		Grace:     DefaultGrace,
		readBuf:   make([]byte, 4096),
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}

// Running reports whether the child is being supervised (anything but
// Stopped).
func (c *Controller) Running() bool {
	return c.state != Stopped
}

// Mode returns the input mode.
func (c *Controller) Mode() input.Mode {
	return c.mode
}

// SetMode switches between passive and interactive input handling.
func (c *Controller) SetMode(m input.Mode) {
	if c.mode == m {
		return
	}
	c.mode = m
	c.router.Reset()
}

// Focus marks this tab focused.
func (c *Controller) Focus() { c.focused = true }

// Blur unfocuses the tab and drops out of interactive mode.
func (c *Controller) Blur() {
	c.focused = false
	c.SetMode(input.Passive)
}

// Focused reports whether the tab is focused.
func (c *Controller) Focused() bool { return c.focused }

// Screen exposes the tab's screen model for rendering.
func (c *Controller) Screen() *vterm.Screen { return c.screen }

// RawTail returns the bounded raw-output window for diagnostics.
func (c *Controller) RawTail() []byte { return c.ingestor.RawTail() }

// RenderInto renders the tab into a pane of the given size: one SGR-run
// string per pane row. A pane taller than the screen shows scrollback
// above; a shorter one clips the oldest rows.
func (c *Controller) RenderInto(cols, rows int) []string {
	_, scrRows := c.screen.Size()
	lines := make([]string, 0, rows)
	if rows > scrRows {
		sb := c.screen.ScrollbackLen()
		need := rows - scrRows
		if need > sb {
			need = sb
		}
		for i := sb - need; i < sb; i++ {
			lines = append(lines, c.screen.RenderScrollbackLine(i))
		}
	}
	first := 0
	if rows < scrRows {
		first = scrRows - rows
	}
	for r := first; r < scrRows; r++ {
		lines = append(lines, c.screen.RenderLine(r))
	}
	for len(lines) < rows {
		lines = append(lines, "")
	}
	return lines
}

// OnExitInteractive registers the hook fired when Ctrl-X leaves
// interactive mode.
func (c *Controller) OnExitInteractive(fn func()) {
	c.router.OnExitInteractive = fn
}

// Start spawns the child. Only valid from Stopped; anything else is a
// no-op. A failed spawn surfaces as a status line and lands back in
// Stopped via Terminated.
func (c *Controller) Start() {
	if c.state != Stopped {
		return
	}
	c.autostartSuspended = false
	c.setState(Starting)
	child, err := spawn.Spawn(c.argv, c.env, c.cols, c.rows)
	if err != nil {
		c.statusLine(fmt.Sprintf("Failed to start: %v", err))
		c.autostartSuspended = true
		c.enterTerminated()
		return
	}
	c.child = child
	c.readFailed = false
}

// Stop snapshots the child's descendants, records the stop time, sends
// SIGTERM to the root, and enters Stopping. Idempotent: repeated calls
// while stopping do not resend the signal. Autostart is suspended until
// the operator starts the tab again.
func (c *Controller) Stop() {
	c.autostartSuspended = true
	switch c.state {
	case Starting, Running:
	default:
		return
	}
	c.stopSnapshot = proctree.Descendants(c.child.Pid)
	c.stopInitiatedAt = time.Now()
	c.lastWaiting = time.Time{}
	c.statusLine("Stopping process...")
	c.child.Signal(syscall.SIGTERM)
	c.setState(Stopping)
}

// Restart stops the child and starts it again once it has terminated.
func (c *Controller) Restart() {
	if c.state == Stopped {
		c.Start()
		return
	}
	c.AfterTerminate(func() {
		c.Start()
	})
	c.Stop()
}

// Toggle stops a supervised child or starts a stopped one.
func (c *Controller) Toggle() {
	if c.Running() {
		c.Stop()
	} else {
		c.Start()
	}
}

// AfterTerminate queues fn to run exactly once when the child next
// reaches Terminated. FIFO order.
func (c *Controller) AfterTerminate(fn func()) {
	c.afterTerminate = append(c.afterTerminate, fn)
}

// SendInput delivers host bytes to the child. In interactive mode the
// router translates them; in passive mode this is the explicit hotkey
// path and the bytes go to the PTY verbatim. The PTY stdin is always
// open unless the child has exited.
func (c *Controller) SendInput(data []byte) error {
	if c.child == nil {
		return nil
	}
	if c.mode == input.Interactive {
		return c.router.Route(c.child, data)
	}
	_, err := c.child.Write(data)
	return err
}

// SetDimensions resizes the screen model and, when a child is live, the
// PTY (the kernel then raises SIGWINCH in the child).
func (c *Controller) SetDimensions(cols, rows int) {
	if cols < 1 || rows < 1 || (cols == c.cols && rows == c.rows) {
		return
	}
	c.cols, c.rows = cols, rows
	c.screen.Resize(cols, rows)
	c.router.Width = cols
	if c.child != nil {
		c.child.Resize(cols, rows)
	}
}

// Tick runs one supervision step: service PTY output, poll liveness, and
// advance the stopping-state reconciliation. Called from the host loop.
func (c *Controller) Tick(now time.Time) {
	c.serviceOutput()

	switch c.state {
	case Stopped, Terminated:
		if c.state == Stopped && c.autostart && !c.autostartSuspended {
			c.Start()
		}
		return
	case Starting:
		if c.childGone() {
			c.enterTerminated()
			return
		}
		c.setState(Running)
	case Running:
		if c.childGone() {
			c.enterTerminated()
		}
	case Stopping:
		if c.childGone() {
			c.enterTerminated()
			return
		}
		if now.Sub(c.stopInitiatedAt) >= c.Grace {
			c.statusLine("Force killing!")
			c.child.Signal(syscall.SIGKILL)
			c.setState(ForceKilling)
			return
		}
		if now.Sub(c.lastWaiting) >= waitingInterval {
			c.lastWaiting = now
			c.statusLine("Waiting...")
		}
	case ForceKilling:
		if c.childGone() {
			c.enterTerminated()
		}
	}
}

// serviceOutput drains whatever the PTY has buffered, without blocking.
func (c *Controller) serviceOutput() {
	if c.child == nil || c.readFailed {
		return
	}
	// Bounded per tick so one chatty child cannot starve its siblings.
	for i := 0; i < 16; i++ {
		n, err := c.child.Read(c.readBuf)
		if n == 0 && err == nil {
			// Quiet child: release any held boundary chunk so the
			// screen does not stall behind the carry buffer.
			c.ingestor.Flush()
			return
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, c.readBuf[:n])
			c.ingestor.Ingest(chunk)
			if c.OSCReply != nil {
				if reply := c.OSCReply(chunk); len(reply) > 0 {
					c.child.Write(reply)
				}
			}
		}
		if err != nil {
			// EIO here means the slave side closed: child death, not
			// a render problem. The liveness poll finishes the job.
			c.readFailed = true
			return
		}
		if n < len(c.readBuf) {
			return
		}
	}
}

// childGone reports whether the child has exited (or its PTY failed,
// which is treated as death).
func (c *Controller) childGone() bool {
	if c.child == nil {
		return true
	}
	exited, _ := c.child.Exited()
	if exited {
		return true
	}
	if c.readFailed {
		// PTYReadFailed: make sure the process actually dies too.
		c.child.Signal(syscall.SIGKILL)
		exited, _ = c.child.Exited()
		return exited
	}
	return false
}

// enterTerminated performs the Terminated transition: flush remaining
// output, release the PTY, SIGKILL any still-live snapshotted
// descendants, and settle in Stopped; the afterTerminate queue then runs
// exactly once, so a queued Start sees the Stopped state.
func (c *Controller) enterTerminated() {
	c.setState(Terminated)
	c.ingestor.Flush()
	if c.child != nil {
		c.child.Close()
		c.child = nil
	}
	if len(c.stopSnapshot) > 0 {
		var alive []int
		for _, pid := range c.stopSnapshot {
			if proctree.Alive(pid) {
				alive = append(alive, pid)
			}
		}
		proctree.SignalAll(alive, syscall.SIGKILL)
		c.stopSnapshot = nil
	}
	c.statusLine("Stopped.")
	c.setState(Stopped)

	callbacks := c.afterTerminate
	c.afterTerminate = nil
	for _, fn := range callbacks {
		fn()
	}
}

// statusLine paints a supervisor message into the tab's screen through
// the normal parse path so it interleaves naturally with child output.
func (c *Controller) statusLine(msg string) {
	c.parser.Feed([]byte("\r\n\x1b[33m" + msg + "\x1b[0m\r\n"))
}
