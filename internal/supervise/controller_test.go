package supervise

import (
	"strings"
	"testing"
	"time"

	"devmux/internal/input"
	"devmux/internal/proctree"
)

func newTestController(t *testing.T, argv ...string) *Controller {
	t.Helper()
	c := New(Config{
		Name: "test",
		Argv: argv,
		Cols: 80,
		Rows: 24,
	})
	c.Grace = 500 * time.Millisecond
	t.Cleanup(func() {
		if c.State() != Stopped {
			c.Stop()
			tickUntil(t, c, func() bool { return c.State() == Stopped }, 10*time.Second)
		}
	})
	return c
}

func tickUntil(t *testing.T, c *Controller, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		c.Tick(time.Now())
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached; state=%s", c.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartReachesRunningAndCapturesOutput(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "echo marker-out; sleep 30")
	c.Start()
	if c.State() != Starting {
		t.Fatalf("state after Start = %s", c.State())
	}
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	tickUntil(t, c, func() bool {
		return strings.Contains(c.Screen().PlainText(), "marker-out")
	}, 5*time.Second)
}

func TestStopCooperativeChild(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "sleep 30")
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	pid := c.child.Pid

	c.Stop()
	if c.State() != Stopping {
		t.Fatalf("state after Stop = %s", c.State())
	}
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 5*time.Second)
	if proctree.Alive(pid) {
		t.Fatalf("pid %d still alive", pid)
	}
	if !strings.Contains(c.Screen().PlainText(), "Stopped.") {
		t.Fatalf("missing status line:\n%s", c.Screen().PlainText())
	}
}

func TestStopEscalatesToForceKill(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "trap '' TERM; while :; do sleep 1; done")
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	pid := c.child.Pid
	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	sawForceKill := false
	c.OnStateChange = func(s State) {
		if s == ForceKilling {
			sawForceKill = true
		}
	}
	start := time.Now()
	c.Stop()
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 10*time.Second)
	elapsed := time.Since(start)

	if !sawForceKill {
		t.Fatal("never entered ForceKilling")
	}
	if elapsed < c.Grace {
		t.Fatalf("escalated before the grace period: %v", elapsed)
	}
	if elapsed > c.Grace+2*time.Second {
		t.Fatalf("escalation too slow: %v", elapsed)
	}
	if proctree.Alive(pid) {
		t.Fatalf("pid %d survived SIGKILL", pid)
	}
	text := c.Screen().PlainText()
	if !strings.Contains(text, "Force killing!") {
		t.Fatalf("missing force-kill status line:\n%s", text)
	}
}

func TestStopReapsDescendants(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "sleep 30 & sleep 30")
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	// Wait for the grandchild to appear in the process table.
	deadline := time.Now().Add(5 * time.Second)
	var kids []int
	for {
		kids = proctree.Descendants(c.child.Pid)
		if len(kids) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no descendants spawned")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Stop()
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 10*time.Second)
	// Everything snapshotted at stop time must be gone.
	deadline = time.Now().Add(2 * time.Second)
	for {
		anyAlive := false
		for _, pid := range kids {
			if proctree.Alive(pid) {
				anyAlive = true
			}
		}
		if !anyAlive {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("descendants still alive: %v", kids)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRestartTransitionChain(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "sleep 30")
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)

	var seen []State
	c.OnStateChange = func(s State) { seen = append(seen, s) }
	c.Restart()
	tickUntil(t, c, func() bool {
		return c.State() == Running && containsStates(seen, Stopping, Terminated, Starting, Running)
	}, 10*time.Second)

	if len(c.afterTerminate) != 0 {
		t.Fatalf("afterTerminate not cleared: %d entries", len(c.afterTerminate))
	}
}

// containsStates reports whether want appears in got as a subsequence.
func containsStates(got []State, want ...State) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestAfterTerminateRunsFIFOExactlyOnce(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "sleep 30")
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)

	var order []int
	c.AfterTerminate(func() { order = append(order, 1) })
	c.AfterTerminate(func() { order = append(order, 2) })
	c.Stop()
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 5*time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("callback order = %v", order)
	}

	// A second lifecycle must not rerun them.
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	c.Stop()
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 5*time.Second)
	if len(order) != 2 {
		t.Fatalf("callbacks ran again: %v", order)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "sleep 30")
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	c.Stop()
	first := c.stopInitiatedAt
	c.Stop()
	if c.stopInitiatedAt != first {
		t.Fatal("repeated Stop reset the grace clock")
	}
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 5*time.Second)
}

func TestAutostart(t *testing.T) {
	c := New(Config{
		Name:      "auto",
		Argv:      []string{"/bin/sh", "-c", "sleep 30"},
		Autostart: true,
		Cols:      80,
		Rows:      24,
	})
	c.Grace = 500 * time.Millisecond
	defer func() {
		c.Stop()
		tickUntil(t, c, func() bool { return c.State() == Stopped }, 10*time.Second)
	}()

	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)

	// An explicit stop suspends autostart: the tab stays down.
	c.Stop()
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 5*time.Second)
	for i := 0; i < 10; i++ {
		c.Tick(time.Now())
	}
	if c.State() != Stopped {
		t.Fatalf("autostart revived an explicitly stopped tab: %s", c.State())
	}
}

func TestSpawnFailureLandsInStopped(t *testing.T) {
	c := New(Config{Name: "bad", Argv: []string{"/no/such/binary"}, Cols: 80, Rows: 24})
	c.Start()
	if c.State() != Stopped {
		t.Fatalf("state = %s", c.State())
	}
	if !strings.Contains(c.Screen().PlainText(), "Failed to start") {
		t.Fatalf("missing failure status line:\n%s", c.Screen().PlainText())
	}
}

func TestToggle(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "sleep 30")
	c.Toggle()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	c.Toggle()
	tickUntil(t, c, func() bool { return c.State() == Stopped }, 5*time.Second)
}

func TestInteractiveInputReachesChild(t *testing.T) {
	c := newTestController(t, "/bin/sh", "-c", "read line; echo got:$line; sleep 30")
	c.Start()
	tickUntil(t, c, func() bool { return c.State() == Running }, 5*time.Second)
	c.SetMode(input.Interactive)
	if err := c.SendInput([]byte("ping\n")); err != nil {
		t.Fatal(err)
	}
	tickUntil(t, c, func() bool {
		return strings.Contains(c.Screen().PlainText(), "got:ping")
	}, 5*time.Second)
}

func TestRenderIntoPaneSizes(t *testing.T) {
	c := New(Config{Name: "r", Argv: []string{"/bin/true"}, Cols: 10, Rows: 4})
	c.parser.Feed([]byte("one\r\ntwo\r\nthree\r\nfour\r\nfive"))

	// Same-size pane: the visible grid.
	lines := c.RenderInto(10, 4)
	if len(lines) != 4 {
		t.Fatalf("lines = %d", len(lines))
	}
	if !strings.Contains(lines[3], "five") {
		t.Fatalf("last line = %q", lines[3])
	}

	// Taller pane pulls the scrolled-off row back in.
	tall := c.RenderInto(10, 5)
	if len(tall) != 5 {
		t.Fatalf("tall lines = %d", len(tall))
	}
	if !strings.Contains(tall[0], "one") {
		t.Fatalf("scrollback row missing: %q", tall[0])
	}

	// Shorter pane clips the oldest visible rows.
	short := c.RenderInto(10, 2)
	if len(short) != 2 {
		t.Fatalf("short lines = %d", len(short))
	}
	if !strings.Contains(short[1], "five") {
		t.Fatalf("short last line = %q", short[1])
	}
}
