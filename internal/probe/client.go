// Package probe wraps the external meshtastic command-line tool.
//
// The tool is a black box that prints JSON-ish or free-form text. Client runs
// it once per call with a bounded timeout, InfoCache memoizes the parsed
// results for a short TTL, and the parser functions turn raw text into
// domain.ProbeInfo values.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"meshroster/internal/identity"
)

const (
	// DefaultCommand is the probe executable
	DefaultCommand = "meshtastic"
	// DefaultFallback is tried once when DefaultCommand is not installed
	DefaultFallback = "python3 -m meshtastic"
	// DefaultTimeout bounds a single probe invocation
	DefaultTimeout = 8 * time.Second
)

// DefaultInfoArgs is the fixed info verb
var DefaultInfoArgs = []string{"--info"}

// Client invokes the probe tool against one device.
// It never retries; callers own retry policy.
type Client struct {
	runner   Runner
	command  []string
	fallback []string
	infoArgs []string
	timeout  time.Duration
	logger   *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithCommand sets the primary command line, e.g. "meshtastic"
func WithCommand(command string) ClientOption {
	return func(c *Client) {
		if fields := strings.Fields(command); len(fields) > 0 {
			c.command = fields
		}
	}
}

// WithFallback sets the command tried when the primary is missing.
// An empty string disables the fallback.
func WithFallback(command string) ClientOption {
	return func(c *Client) {
		c.fallback = strings.Fields(command)
	}
}

// WithInfoArgs overrides the arguments used by Info
func WithInfoArgs(args ...string) ClientOption {
	return func(c *Client) {
		if len(args) > 0 {
			c.infoArgs = args
		}
	}
}

// WithProbeTimeout sets the per-invocation timeout
func WithProbeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a probe client. A nil runner uses ExecRunner.
func NewClient(runner Runner, logger *zap.Logger, opts ...ClientOption) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		runner:   runner,
		command:  []string{DefaultCommand},
		fallback: strings.Fields(DefaultFallback),
		infoArgs: DefaultInfoArgs,
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-invocation timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Info runs the info verb against deviceID. An empty deviceID queries
// whatever device the tool connects to by default.
func (c *Client) Info(ctx context.Context, deviceID string) (string, error) {
	return c.Probe(ctx, deviceID, c.infoArgs...)
}

// Probe runs the tool with extraArgs followed by the device selector.
// Output is returned trimmed regardless of exit status.
func (c *Client) Probe(ctx context.Context, deviceID string, extraArgs ...string) (string, error) {
	args := append([]string{}, extraArgs...)
	args = append(args, deviceArgs(deviceID)...)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.run(ctx, c.command, args)
	if errors.Is(err, ErrToolNotFound) && len(c.fallback) > 0 {
		c.logger.Debug("probe command missing, trying fallback",
			zap.String("command", strings.Join(c.command, " ")),
			zap.String("fallback", strings.Join(c.fallback, " ")))
		out, err = c.run(ctx, c.fallback, args)
	}
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			return "", ErrToolNotFound
		}
		return out, fmt.Errorf("probe %q: %w", deviceID, err)
	}

	c.logger.Debug("probe finished",
		zap.String("device", deviceID),
		zap.Int("bytes", len(out)))
	return out, nil
}

func (c *Client) run(ctx context.Context, command, args []string) (string, error) {
	full := append(append([]string{}, command[1:]...), args...)
	return c.runner.Run(ctx, command[0], full...)
}

// deviceArgs selects --host for network hosts and --device for everything else
func deviceArgs(deviceID string) []string {
	switch {
	case deviceID == "":
		return nil
	case identity.IsNetworkHost(deviceID):
		return []string{"--host", deviceID}
	default:
		return []string{"--device", deviceID}
	}
}
