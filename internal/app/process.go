package app

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/voxlab/botserve/internal/domain"
)

// ProcessHandle abstracts a spawned worker process so the registry and
// launcher can be exercised with fakes.
type ProcessHandle interface {
	PID() int
	Running() bool
	// Terminate asks the process to exit (SIGTERM). It does not wait.
	Terminate() error
	// Wait blocks until the process has exited.
	Wait() error
}

// Spawner starts a worker process for a room credential.
type Spawner interface {
	Spawn(cred domain.RoomCredential) (ProcessHandle, error)
}

// ExecSpawner runs the configured bot command with the room url and token as
// structured arguments. The credential is never interpolated into a shell
// string.
type ExecSpawner struct {
	// Command is the argv prefix, e.g. {"./bot"} or {"python3", "-m", "bot"}.
	Command []string
}

func (s *ExecSpawner) Spawn(cred domain.RoomCredential) (ProcessHandle, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("bot command not configured")
	}
	args := append([]string{}, s.Command[1:]...)
	args = append(args, "-u", string(cred.RoomURL), "-t", cred.Token)

	cmd := exec.Command(s.Command[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.Command[0], err)
	}

	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type osProcess struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (p *osProcess) PID() int { return p.cmd.Process.Pid }

func (p *osProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *osProcess) Terminate() error {
	if !p.Running() {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Wait() error {
	<-p.done
	return p.waitErr
}
