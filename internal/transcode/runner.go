package transcode

import (
	"context"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/core"
)

// Process is one running transcoder. Done yields the exit error exactly once
// when the process terminates for any reason.
type Process interface {
	Done() <-chan error
	Stop()
}

// Runner spawns transcoder processes. The exec-backed implementation is
// replaced with a fake in tests.
type Runner interface {
	Start(sid core.SessionID, args []string) (Process, error)
}

// ExecRunner runs the configured transcoder binary.
type ExecRunner struct {
	Path string
}

func NewExecRunner(path string) *ExecRunner {
	return &ExecRunner{Path: path}
}

func (r *ExecRunner) Start(sid core.SessionID, args []string) (Process, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.Stdout = newProcessLogWriter(sid, "stdout")
	cmd.Stderr = newProcessLogWriter(sid, "stderr")

	log.Info().Str("service", "transcode").Str("sessionID", string(sid)).Str("cmd", r.Path+" "+strings.Join(args, " ")).Msg("spawn transcoder")

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	proc := &execProcess{cancel: cancel, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		cancel()
		proc.done <- err
	}()

	return proc, nil
}

type execProcess struct {
	cancel context.CancelFunc
	done   chan error
}

func (p *execProcess) Done() <-chan error { return p.done }

// Stop kills the process. The exit is still reported through Done.
func (p *execProcess) Stop() { p.cancel() }

// processLogWriter forwards the transcoder's output lines to the structured
// log.
type processLogWriter struct {
	sid    core.SessionID
	stream string
}

func newProcessLogWriter(sid core.SessionID, stream string) *processLogWriter {
	return &processLogWriter{sid: sid, stream: stream}
}

func (w *processLogWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		log.Debug().Str("service", "transcode").Str("sessionID", string(w.sid)).Str("stream", w.stream).Msg(line)
	}

	return len(p), nil
}
