package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// LiveRequest is one recorded clip for emotion detection.
type LiveRequest struct {
	UserID    string
	Duration  string
	Video     []byte
	QuotaUsed int
}

// processWaitDelay is how long Process waits for the script's output pipes to
// close once it has been killed. Grandchildren holding stdout are abandoned.
const processWaitDelay = 5 * time.Second

// LiveProcessor runs the emotion detection script as a subprocess.
type LiveProcessor struct {
	python    string
	script    string
	modelPath string
	waitDelay time.Duration
}

// NewLiveProcessor creates a LiveProcessor.
func NewLiveProcessor(python, script, modelPath string) *LiveProcessor {
	return &LiveProcessor{python: python, script: script, modelPath: modelPath, waitDelay: processWaitDelay}
}

type liveArgs struct {
	Duration  string `json:"duration"`
	ModelPath string `json:"model_path"`
	UserID    string `json:"user_id"`
	QuotaUsed int    `json:"quota_used"`
}

// Process feeds the clip to the script and returns its JSON report. The
// process is killed when ctx is done.
func (p *LiveProcessor) Process(ctx context.Context, lr LiveRequest) (json.RawMessage, error) {
	duration := lr.Duration
	if duration == "" {
		duration = "1min"
	}
	args, err := json.Marshal(liveArgs{
		Duration:  duration,
		ModelPath: p.modelPath,
		UserID:    lr.UserID,
		QuotaUsed: lr.QuotaUsed,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding processor args: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.python, p.script, string(args))
	cmd.Stdin = strings.NewReader(base64.StdEncoding.EncodeToString(lr.Video))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = p.waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("live processor: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("live processor exited with %d: %s", exitErr.ExitCode(), tail(stderr.String()))
		}
		return nil, fmt.Errorf("%w: starting live processor: %w", ErrUnavailable, err)
	}

	return parseObject(stdout.Bytes())
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[len(s)-maxErrorBody:]
	}
	return s
}
