// Package proctree enumerates and signals process trees. Development
// commands routinely spawn subshells; signaling only the direct child
// leaves grandchildren holding ports, so stops snapshot the whole tree
// first and reap stragglers after the root exits.
package proctree

import (
	"sort"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

// Descendants returns all PIDs transitively descended from pid, walking
// the OS process table. The root itself is not included. A missing or
// already-dead root yields an empty set.
func Descendants(pid int) []int {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	seen := map[int]bool{}
	var walk func(p *process.Process)
	walk = func(p *process.Process) {
		children, err := p.Children()
		if err != nil {
			return
		}
		for _, ch := range children {
			cpid := int(ch.Pid)
			if seen[cpid] {
				continue
			}
			seen[cpid] = true
			walk(ch)
		}
	}
	walk(root)
	pids := make([]int, 0, len(seen))
	for p := range seen {
		pids = append(pids, p)
	}
	sort.Ints(pids)
	return pids
}

// Alive reports whether pid is present in the process table.
func Alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// SignalAll best-effort delivers sig to every pid. Already-dead (ESRCH)
// and not-permitted (EPERM) targets are skipped; any other errno is
// returned per pid.
func SignalAll(pids []int, sig syscall.Signal) map[int]error {
	var failed map[int]error
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		err := syscall.Kill(pid, sig)
		if err == nil || err == syscall.ESRCH || err == syscall.EPERM {
			continue
		}
		if failed == nil {
			failed = map[int]error{}
		}
		failed[pid] = err
	}
	return failed
}
