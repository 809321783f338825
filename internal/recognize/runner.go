package recognize

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// stderrLogCap bounds how much of a failing command's stderr lands in the
// log line.
const stderrLogCap = 8 << 10

// Runner executes an external recognizer binary. Tests substitute a scripted
// implementation so no binary is spawned.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func newExecRunner(logger *slog.Logger) execRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return execRunner{logger: logger}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		r.logger.Error("recognize.exec.failed",
			"cmd", name,
			"args", args,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", capString(errb.String(), stderrLogCap),
		)
		return out.Bytes(), errb.Bytes(), err
	}

	r.logger.Debug("recognize.exec.ok",
		"cmd", name,
		"args", args,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", out.Len(),
	)
	return out.Bytes(), errb.Bytes(), nil
}

func capString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
