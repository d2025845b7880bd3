// Package bridge runs one-shot JSON commands against an installed runtime.
//
// Each call spawns the runtime executable in RPC mode, writes a single
// request object to its stdin and reads a single response object from its
// stdout once the process exits.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/rtm/internal/extension"
	"github.com/ZebulonRouseFrantzich/rtm/internal/logging"
	"github.com/ZebulonRouseFrantzich/rtm/internal/metrics"
)

const (
	// DefaultRPCArg is passed to the runtime to select RPC mode.
	DefaultRPCArg = "--rpc"
	// DefaultTimeout bounds a single call.
	DefaultTimeout = 120 * time.Second

	previewBytes = 512
)

// Resolver locates the installed runtime executable.
// *extension.Manager satisfies it.
type Resolver interface {
	ID() string
	Executable() (string, error)
}

// Request is written to the runtime's stdin.
type Request struct {
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
}

// Config holds Bridge settings. Zero values select the defaults.
type Config struct {
	RPCArg  string
	Timeout time.Duration
	Logger  logging.Logger
	Metrics metrics.Recorder
}

// Bridge sends commands to one extension's runtime.
type Bridge struct {
	resolver Resolver
	rpcArg   string
	timeout  time.Duration
	logger   logging.Logger
	metrics  metrics.Recorder
}

// New creates a Bridge that asks resolver for the executable on every call.
func New(resolver Resolver, cfg Config) *Bridge {
	b := &Bridge{
		resolver: resolver,
		rpcArg:   cfg.RPCArg,
		timeout:  cfg.Timeout,
		logger:   logging.OrNop(cfg.Logger),
		metrics:  metrics.OrNoop(cfg.Metrics),
	}
	if b.rpcArg == "" {
		b.rpcArg = DefaultRPCArg
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	return b
}

// Timeout returns the per-call timeout.
func (b *Bridge) Timeout() time.Duration { return b.timeout }

// RunCommand runs action with arguments and returns the response payload.
//
// When the timeout or ctx ends the call first, RunCommand stops waiting and
// the child process is left to finish on its own.
func (b *Bridge) RunCommand(ctx context.Context, action string, arguments map[string]any) (map[string]any, error) {
	id := b.resolver.ID()
	start := time.Now()

	payload, err := b.run(ctx, action, arguments)

	elapsed := time.Since(start)
	b.metrics.ObserveBridgeCall(id, outcome(err), elapsed)
	if err != nil {
		b.logger.Warn("runtime command failed", logging.KeyExtension, id, logging.KeyAction, action,
			logging.KeyDurationMS, elapsed.Milliseconds(), logging.KeyError, err)
		return nil, err
	}
	b.logger.Debug("runtime command completed", logging.KeyExtension, id, logging.KeyAction, action,
		logging.KeyDurationMS, elapsed.Milliseconds())
	return payload, nil
}

func (b *Bridge) run(ctx context.Context, action string, arguments map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	exe, err := b.resolver.Executable()
	if err != nil {
		return nil, err
	}

	if arguments == nil {
		arguments = map[string]any{}
	}
	request, err := json.Marshal(Request{Action: action, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	proc := exec.Command(exe, b.rpcArg)
	proc.Stdin = bytes.NewReader(request)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	if err := proc.Start(); err != nil {
		return nil, processFailure(result{exit: -1, err: err})
	}

	done := make(chan result, 1)
	go func() {
		err := proc.Wait()
		r := result{stdout: stdout.Bytes(), stderr: stderr.Bytes(), exit: proc.ProcessState.ExitCode()}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			r.err = err
		}
		done <- r
	}()

	select {
	case r := <-done:
		return classify(r)
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	}
}

// result is a finished process with its complete, unsplit output.
type result struct {
	stdout []byte
	stderr []byte
	exit   int
	err    error
}

// classify maps a finished process to a payload or an error, checking
// exit status before the response body.
func classify(r result) (map[string]any, error) {
	if err := processFailure(r); err != nil {
		return nil, err
	}

	var response map[string]any
	if err := json.Unmarshal(r.stdout, &response); err != nil || response == nil {
		return nil, extension.NewError(extension.ErrIPCInvalidResponse,
			"response is not a JSON object: "+preview(string(r.stdout)), err)
	}

	if ok, present := response["ok"]; present {
		if b, isBool := ok.(bool); isBool && !b {
			msg, _ := response["error"].(string)
			if msg == "" {
				msg = "runtime reported failure"
			}
			return nil, extension.NewError(extension.ErrIPCHelper, msg, nil)
		}
	}

	raw, present := response["payload"]
	if !present || raw == nil {
		return response, nil
	}
	payload, isObject := raw.(map[string]any)
	if !isObject {
		return nil, extension.NewError(extension.ErrIPCInvalidResponse, "payload is not a JSON object", nil)
	}
	return payload, nil
}

// processFailure returns ErrProcessFailed when the process could not start or
// exited non-zero, and nil otherwise.
func processFailure(r result) error {
	if r.err == nil && r.exit == 0 {
		return nil
	}
	msg := strings.TrimSpace(string(r.stderr))
	if msg == "" {
		msg = preview(string(r.stdout))
	}
	if msg == "" && r.err != nil {
		msg = r.err.Error()
	}
	return extension.NewError(extension.ErrProcessFailed, fmt.Sprintf("exit code %d: %s", r.exit, msg), r.err)
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > previewBytes {
		return s[:previewBytes] + "..."
	}
	return s
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return extension.NewError(extension.ErrTimeout, "runtime command", err)
	}
	return extension.NewError(extension.ErrCancelled, "runtime command", err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, extension.ErrCancelled), errors.Is(err, extension.ErrTimeout):
		return metrics.OutcomeCancelled
	default:
		return metrics.OutcomeFailed
	}
}
