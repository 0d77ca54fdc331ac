package procattr

import (
	"io"
	"os"
	"syscall"
	"time"
)

// SignalGroup delivers sig to every process in p's group.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}

// KillGroup sends SIGKILL to p's process group.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}

// StopTimeouts bounds each escalation step of Stop.
type StopTimeouts struct {
	// Graceful is how long to wait after closing stdin.
	Graceful time.Duration
	// Interrupt is how long to wait after SIGINT.
	Interrupt time.Duration
	// Kill is how long to wait after SIGKILL before giving up.
	Kill time.Duration
}

// DefaultStopTimeouts matches what agent CLIs need to flush their session
// files after stdin closes.
var DefaultStopTimeouts = StopTimeouts{
	Graceful:  500 * time.Millisecond,
	Interrupt: 500 * time.Millisecond,
	Kill:      200 * time.Millisecond,
}

// Stop shuts a child down by closing stdin, then interrupting its group,
// then killing its group. exited must be closed once cmd.Wait returns.
// Stop reports whether the process exited before the final deadline.
func Stop(p *os.Process, stdin io.Closer, exited <-chan struct{}, t StopTimeouts) bool {
	if stdin != nil {
		_ = stdin.Close()
	}
	if waitExit(exited, t.Graceful) {
		return true
	}
	_ = SignalGroup(p, syscall.SIGINT)
	if waitExit(exited, t.Interrupt) {
		return true
	}
	_ = KillGroup(p)
	return waitExit(exited, t.Kill)
}

func waitExit(exited <-chan struct{}, d time.Duration) bool {
	select {
	case <-exited:
		return true
	case <-time.After(d):
		return false
	}
}
