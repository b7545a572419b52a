// Package mux runs the host event loop: one goroutine drives signal
// draining, per-tab output ingestion, supervision ticks, stdin polling,
// and rendering. Nothing in the loop blocks; PTY reads are non-blocking
// and the only waits are the short stdin poll and the inter-frame idle.
package mux

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"devmux/internal/input"
	"devmux/internal/supervise"
)

const (
	// frameInterval targets ~40 fps.
	frameInterval = 25 * time.Millisecond
	// pollBusy is the stdin poll timeout while keys are expected
	// (interactive mode or a half-received escape sequence).
	pollBusy = 5 * time.Millisecond
	// pollIdle is the stdin poll timeout otherwise.
	pollIdle = 25 * time.Millisecond
	// quitWindow bounds how long quitting waits for children.
	quitWindow = 3 * time.Second
)

// Tab couples a controller with its host-side bookkeeping.
type Tab struct {
	Controller *supervise.Controller
	schedule   *restartSchedule
}

// Mux multiplexes a fixed set of tabs onto the host terminal.
type Mux struct {
	tabs    []*Tab
	focused int

	out   *os.File
	inFd  int
	rows  int
	cols  int

	quitCh  chan os.Signal
	winchCh chan os.Signal

	quitting   bool
	quitStart  time.Time
	lastRender time.Time
	firstFrame bool

	keys keyDecoder
	colors oscPalette
}

// New builds a mux over the given controllers. Stdin/stdout are the
// process-wide terminal owned by this loop.
func New(controllers []*supervise.Controller) *Mux {
	m := &Mux{
		out:        os.Stdout,
		inFd:       int(os.Stdin.Fd()),
		focused:    0,
		firstFrame: true,
	}
	m.colors.detect()
	for _, c := range controllers {
		c.OSCReply = m.colors.reply
		tab := &Tab{Controller: c}
		m.tabs = append(m.tabs, tab)
	}
	return m
}

// SetRestartSchedule attaches an RRULE-driven restart to a tab.
func (m *Mux) SetRestartSchedule(tabIndex int, rule string) error {
	if tabIndex < 0 || tabIndex >= len(m.tabs) {
		return fmt.Errorf("no tab %d", tabIndex)
	}
	sched, err := newRestartSchedule(rule, time.Now())
	if err != nil {
		return err
	}
	m.tabs[tabIndex].schedule = sched
	return nil
}

// Run enters raw mode and drives the loop until the operator quits or a
// termination signal arrives. Children still alive after the quit window
// are left for the host supervisor to reap.
func (m *Mux) Run() error {
	cols, rows, err := term.GetSize(m.inFd)
	if err != nil {
		// DimensionQueryFailed: fall back to 80x24.
		cols, rows = 80, 24
	}
	m.resize(cols, rows)

	restore, err := term.MakeRaw(m.inFd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		term.Restore(m.inFd, restore)
		m.out.Write([]byte("\033[?25h\033[0m\r\n"))
	}()

	// Signal handlers only feed channels; the flags are consumed at the
	// top of each tick.
	m.quitCh = make(chan os.Signal, 4)
	m.winchCh = make(chan os.Signal, 1)
	signal.Notify(m.quitCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	signal.Notify(m.winchCh, syscall.SIGWINCH)
	defer signal.Stop(m.quitCh)
	defer signal.Stop(m.winchCh)

	m.out.Write([]byte("\033[2J\033[H"))

	for {
		now := time.Now()
		m.drainSignals()

		for _, tab := range m.tabs {
			if tab.schedule != nil && tab.schedule.due(now) && tab.Controller.State() == supervise.Running {
				tab.Controller.Restart()
			}
			tab.Controller.Tick(now)
		}

		if m.quitting && (m.allStopped() || now.Sub(m.quitStart) >= quitWindow) {
			return nil
		}

		m.pollInput()

		if time.Since(m.lastRender) >= frameInterval {
			m.render()
			m.lastRender = time.Now()
		}
	}
}

// Quit initiates shutdown: stop every controller and keep ticking for up
// to the quit window while a "Quitting" overlay renders.
func (m *Mux) Quit() {
	if m.quitting {
		return
	}
	m.quitting = true
	m.quitStart = time.Now()
	for _, tab := range m.tabs {
		tab.Controller.Stop()
	}
}

func (m *Mux) allStopped() bool {
	for _, tab := range m.tabs {
		if tab.Controller.State() != supervise.Stopped {
			return false
		}
	}
	return true
}

// drainSignals consumes pending signal flags without blocking.
func (m *Mux) drainSignals() {
	for {
		select {
		case <-m.quitCh:
			m.Quit()
		case <-m.winchCh:
			cols, rows, err := term.GetSize(m.inFd)
			if err == nil {
				m.resize(cols, rows)
			}
		default:
			return
		}
	}
}

// resize updates host dimensions and fans out the child pane size to
// every controller (one row is reserved for the status bar).
func (m *Mux) resize(cols, rows int) {
	if cols < 2 || rows < 2 {
		return
	}
	m.cols, m.rows = cols, rows
	for _, tab := range m.tabs {
		tab.Controller.SetDimensions(cols, rows-1)
	}
	m.firstFrame = true
	m.out.Write([]byte("\033[2J\033[H"))
}

// pollInput waits briefly for host keystrokes and dispatches them.
func (m *Mux) pollInput() {
	timeout := pollIdle
	if m.expectingKeys() {
		timeout = pollBusy
	}
	if !fdReadable(m.inFd, timeout) {
		return
	}
	buf := make([]byte, 256)
	n, err := unix.Read(m.inFd, buf)
	if n <= 0 || err != nil {
		return
	}
	m.handleKeys(buf[:n])
}

func (m *Mux) expectingKeys() bool {
	if m.keys.pending() {
		return true
	}
	f := m.focusedTab()
	return f != nil && f.Controller.Mode() == input.Interactive
}

func (m *Mux) focusedTab() *Tab {
	if len(m.tabs) == 0 {
		return nil
	}
	return m.tabs[m.focused]
}

// focusTab moves focus, blurring the old tab.
func (m *Mux) focusTab(i int) {
	if i < 0 || i >= len(m.tabs) || i == m.focused {
		return
	}
	m.tabs[m.focused].Controller.Blur()
	m.focused = i
	m.tabs[i].Controller.Focus()
	m.firstFrame = true
}

// fdReadable waits up to timeout for fd to become readable.
func fdReadable(fd int, timeout time.Duration) bool {
	var fds unix.FdSet
	fds.Set(fd)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	for {
		n, err := unix.Select(fd+1, &fds, nil, nil, &tv)
		if err == unix.EINTR {
			return false
		}
		return err == nil && n > 0
	}
}
