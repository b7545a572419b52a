// Package spawn starts child processes under a pseudo-terminal and owns
// the master side: non-blocking reads, window-size updates, and the exit
// status handoff.
package spawn

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// SpawnError reports a failed PTY allocation, fork, or exec.
type SpawnError struct {
	Command string
	Cause   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Cause)
}

func (e *SpawnError) Unwrap() error {
	return e.Cause
}

// Child is a spawned process and its PTY master. Exclusively owned by one
// controller; never shared.
type Child struct {
	Cmd       *exec.Cmd
	Ptm       *os.File
	Pid       int
	StartedAt time.Time

	exitCh chan error
	exited bool
	exitErr error
}

// Spawn launches argv[0] with argv[1:] under a new PTY sized cols x rows.
// The child environment is the current process environment, FORCE_COLOR
// and the dimensions, and then extraEnv, with later entries overriding
// earlier ones. Spawn never retries.
func Spawn(argv []string, extraEnv map[string]string, cols, rows int) (*Child, error) {
	if len(argv) == 0 {
		return nil, &SpawnError{Command: "", Cause: fmt.Errorf("empty command")}
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = buildEnv(extraEnv, cols, rows)

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, &SpawnError{Command: argv[0], Cause: err}
	}

	// Reads are serviced from the tick loop; they must return
	// immediately with whatever is available.
	if err := unix.SetNonblock(int(ptm.Fd()), true); err != nil {
		ptm.Close()
		cmd.Process.Kill()
		return nil, &SpawnError{Command: argv[0], Cause: err}
	}

	c := &Child{
		Cmd:       cmd,
		Ptm:       ptm,
		Pid:       cmd.Process.Pid,
		StartedAt: time.Now(),
		exitCh:    make(chan error, 1),
	}
	go func() {
		c.exitCh <- cmd.Wait()
	}()
	return c, nil
}

// buildEnv merges the forced variables under the caller's, caller wins.
func buildEnv(extraEnv map[string]string, cols, rows int) []string {
	merged := map[string]string{
		"FORCE_COLOR": "1",
		"COLUMNS":     strconv.Itoa(cols),
		"LINES":       strconv.Itoa(rows),
	}
	for k, v := range extraEnv {
		merged[k] = v
	}
	env := make([]string, 0, len(os.Environ())+len(merged))
	for _, e := range os.Environ() {
		key := e
		if idx := strings.Index(e, "="); idx >= 0 {
			key = e[:idx]
		}
		if _, override := merged[key]; !override {
			env = append(env, e)
		}
	}
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// Read does a non-blocking read of the PTY master. It returns (0, nil)
// when no output is available, and the underlying error for anything
// other than EAGAIN/EINTR. On Linux a closed slave side reads as EIO,
// which callers treat as child death.
func (c *Child) Read(buf []byte) (int, error) {
	for {
		n, err := unix.Read(int(c.Ptm.Fd()), buf)
		if n > 0 {
			return n, nil
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		case nil:
			// n == 0 with no error: EOF.
			return 0, fmt.Errorf("pty read: closed")
		default:
			return 0, fmt.Errorf("pty read: %w", err)
		}
	}
}

// Write writes keystrokes to the child's stdin side of the PTY.
func (c *Child) Write(p []byte) (int, error) {
	return c.Ptm.Write(p)
}

// Resize updates the PTY window size; the kernel delivers SIGWINCH to the
// child.
func (c *Child) Resize(cols, rows int) error {
	return pty.Setsize(c.Ptm, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Exited polls the child's liveness without blocking. Once it returns
// true it keeps returning true with the same status error.
func (c *Child) Exited() (bool, error) {
	if c.exited {
		return true, c.exitErr
	}
	select {
	case err := <-c.exitCh:
		c.exited = true
		c.exitErr = err
		return true, err
	default:
		return false, nil
	}
}

// Signal delivers a signal to the child process itself (not the tree).
func (c *Child) Signal(sig syscall.Signal) error {
	if c.Cmd == nil || c.Cmd.Process == nil {
		return nil
	}
	err := c.Cmd.Process.Signal(sig)
	if err == nil || err == os.ErrProcessDone {
		return nil
	}
	return err
}

// Close releases the PTY master. Idempotent.
func (c *Child) Close() error {
	if c.Ptm == nil {
		return nil
	}
	err := c.Ptm.Close()
	c.Ptm = nil
	return err
}
