package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/featureforge/featureforge/log"
)

// DefaultMaxBufferSize is the default maximum buffer size for JSON messages (1MB)
const DefaultMaxBufferSize = 1024 * 1024

// SubprocessTransport implements Transport using the agent CLI as a subprocess
// speaking stream-json on stdin/stdout.
type SubprocessTransport struct {
	options       Options
	cliPath       string
	cwd           string
	maxBufferSize int

	// Process handles
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// Channels for message streaming
	messages chan []byte
	errors   chan error

	// State
	connected bool
	closed    bool
	mu        sync.RWMutex
	writeMu   sync.Mutex // Protects stdin writes

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubprocessTransport creates a new subprocess transport
func NewSubprocessTransport(options Options) (*SubprocessTransport, error) {
	cliPath := options.CliPath
	if cliPath == "" {
		cliPath = "claude"
	}

	cwd := options.Cwd
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return nil, &ConnectionError{Message: "failed to get working directory", Cause: err}
		}
	}

	maxBufferSize := options.MaxBufferSize
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}

	return &SubprocessTransport{
		options:       options,
		cliPath:       cliPath,
		cwd:           cwd,
		maxBufferSize: maxBufferSize,
		messages:      make(chan []byte, 100),
		errors:        make(chan error, 10),
	}, nil
}

// buildCommand constructs the CLI command with all arguments
func (t *SubprocessTransport) buildCommand() []string {
	cmd := []string{t.cliPath, "--output-format", "stream-json", "--verbose"}

	opts := t.options

	cmd = append(cmd, "--system-prompt", opts.SystemPrompt)

	if len(opts.AllowedTools) > 0 {
		cmd = append(cmd, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}

	if opts.PermissionMode != "" {
		cmd = append(cmd, "--permission-mode", string(opts.PermissionMode))
	}

	if opts.MaxTurns > 0 {
		cmd = append(cmd, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}

	if opts.Model != "" {
		cmd = append(cmd, "--model", opts.Model)
	}

	if opts.SettingsPath != "" {
		cmd = append(cmd, "--settings", opts.SettingsPath)
	}

	cmd = append(cmd, "--input-format", "stream-json")

	return cmd
}

// Connect starts the subprocess and establishes communication
func (t *SubprocessTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return ErrAlreadyConnected
	}

	if t.closed {
		return ErrConnectionClosed
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	cmdArgs := t.buildCommand()

	log.Info().
		Str("cli", t.cliPath).
		Str("cwd", t.cwd).
		Msg("starting agent CLI subprocess")

	t.cmd = exec.CommandContext(t.ctx, cmdArgs[0], cmdArgs[1:]...)
	t.cmd.Dir = t.cwd

	env := os.Environ()
	env = append(env, "CLAUDE_CODE_ENTRYPOINT=sdk-go")
	for key, value := range t.options.Env {
		env = append(env, key+"="+value)
	}
	t.cmd.Env = env

	var err error
	t.stdin, err = t.cmd.StdinPipe()
	if err != nil {
		return &ConnectionError{Message: "failed to create stdin pipe", Cause: err}
	}

	t.stdout, err = t.cmd.StdoutPipe()
	if err != nil {
		return &ConnectionError{Message: "failed to create stdout pipe", Cause: err}
	}

	t.stderr, err = t.cmd.StderrPipe()
	if err != nil {
		return &ConnectionError{Message: "failed to create stderr pipe", Cause: err}
	}

	if err := t.cmd.Start(); err != nil {
		return &ConnectionError{Message: "failed to start CLI process", Cause: err}
	}

	t.connected = true

	log.Info().
		Int("pid", t.cmd.Process.Pid).
		Str("cwd", t.cwd).
		Msg("agent CLI subprocess started")

	t.wg.Add(2)
	go t.readStdout()
	go t.readStderr()

	t.wg.Add(1)
	go t.monitorProcess()

	return nil
}

// readStdout reads JSON messages from stdout
func (t *SubprocessTransport) readStdout() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stdout)
	// Set large buffer for potentially large JSON messages
	buf := make([]byte, t.maxBufferSize)
	scanner.Buffer(buf, t.maxBufferSize)

	for scanner.Scan() {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// Split concatenated JSON objects (the CLI may output multiple on one line)
		for _, jsonData := range splitConcatenatedJSON(line) {
			select {
			case t.messages <- jsonData:
			case <-t.ctx.Done():
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case t.errors <- &ConnectionError{Message: "stdout read error", Cause: err}:
		case <-t.ctx.Done():
		}
	}
}

// splitConcatenatedJSON splits a byte slice containing concatenated JSON objects
func splitConcatenatedJSON(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	var result [][]byte
	decoder := json.NewDecoder(bytes.NewReader(data))

	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			break
		}
		// Make a copy since raw may be backed by the original slice
		obj := make([]byte, len(raw))
		copy(obj, raw)
		result = append(result, obj)
	}

	return result
}

// readStderr reads and handles stderr output
func (t *SubprocessTransport) readStderr() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stderr)

	for scanner.Scan() {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		if t.options.Stderr != nil {
			t.options.Stderr(line)
		}

		log.Debug().Str("stderr", line).Msg("agent CLI stderr")
	}
}

// monitorProcess watches for process exit
func (t *SubprocessTransport) monitorProcess() {
	defer t.wg.Done()

	err := t.cmd.Wait()

	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	if t.cmd.ProcessState != nil {
		log.Info().
			Int("exitCode", t.cmd.ProcessState.ExitCode()).
			Msg("agent CLI process exited")
	}

	if err != nil {
		select {
		case <-t.ctx.Done():
			// Context was cancelled - expected during shutdown
			log.Debug().Err(err).Msg("agent CLI process terminated during shutdown")
		default:
			log.Error().Err(err).Msg("agent CLI process error")
			select {
			case t.errors <- &ConnectionError{Message: "process exited", Cause: err}:
			default:
			}
		}
	}

	close(t.messages)
}

// Write sends data to the agent CLI's stdin
func (t *SubprocessTransport) Write(data string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	if t.closed {
		t.mu.RUnlock()
		return ErrConnectionClosed
	}
	t.mu.RUnlock()

	if _, err := io.WriteString(t.stdin, data); err != nil {
		return &ConnectionError{Message: "failed to write to stdin", Cause: err}
	}

	return nil
}

// ReadMessages returns the channel for receiving messages
func (t *SubprocessTransport) ReadMessages() <-chan []byte {
	return t.messages
}

// Errors returns the channel for receiving errors
func (t *SubprocessTransport) Errors() <-chan error {
	return t.errors
}

// Close terminates the connection and cleans up resources.
//
// The agent CLI is a Node.js program: it handles SIGINT gracefully but
// ignores SIGTERM, so the shutdown ladder is stdin EOF, SIGINT, then
// SIGKILL after a timeout.
func (t *SubprocessTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	// Close stdin first to signal EOF
	if t.stdin != nil {
		t.stdin.Close()
	}

	if t.cmd != nil && t.cmd.Process != nil {
		if err := t.cmd.Process.Signal(syscall.SIGINT); err == nil {
			processDone := make(chan struct{})
			go func() {
				t.cmd.Wait()
				close(processDone)
			}()

			select {
			case <-processDone:
				// Process exited gracefully
			case <-time.After(5 * time.Second):
				log.Warn().Int("pid", t.cmd.Process.Pid).Msg("process didn't exit gracefully, sending SIGKILL")
				t.cmd.Process.Kill()
			}
		} else {
			// Signal failed - process likely already dead
			t.cmd.Process.Kill()
		}
	}

	// Close stdout/stderr to unblock readers
	if t.stdout != nil {
		t.stdout.Close()
	}
	if t.stderr != nil {
		t.stderr.Close()
	}

	wgDone := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(wgDone)
	}()

	select {
	case <-wgDone:
	case <-time.After(2 * time.Second):
		log.Warn().Msg("transport goroutines did not finish in time, proceeding with close")
	}

	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	log.Debug().Msg("agent CLI transport closed")

	return nil
}

// IsConnected returns whether the transport is currently connected
func (t *SubprocessTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && !t.closed
}
