package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// exit status a POSIX shell uses for "command not found"
const shellNotFound = 127

// SSHConfig describes a remote gateway the probe tool runs on
type SSHConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	Passphrase string
	Timeout    time.Duration
}

// SSHRunner runs probe commands on a remote gateway host, for radios
// attached to a machine other than the one running the roster
type SSHRunner struct {
	cfg    SSHConfig
	logger *zap.Logger
}

// NewSSHRunner creates a runner for the given gateway
func NewSSHRunner(cfg SSHConfig, logger *zap.Logger) *SSHRunner {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSHRunner{cfg: cfg, logger: logger}
}

// Run executes the command remotely and returns trimmed stdout
func (r *SSHRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	client, err := r.connect(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	cmdline := shellJoin(append([]string{name}, args...))

	type result struct {
		out []byte
		err error
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmdline)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		out := strings.TrimSpace(string(res.out))
		if res.err == nil {
			return out, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(res.err, &exitErr) {
			if exitErr.ExitStatus() == shellNotFound {
				return "", fmt.Errorf("%s on %s: %w", name, r.cfg.Host, ErrToolNotFound)
			}
			return exitOutput(name+" on "+r.cfg.Host, out, stderr.String())
		}
		return "", fmt.Errorf("remote command failed: %w", res.err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		r.logger.Debug("remote probe cancelled",
			zap.String("host", r.cfg.Host),
			zap.String("command", name))
		return "", fmt.Errorf("%s on %s: %w", name, r.cfg.Host, ctx.Err())
	}
}

func (r *SSHRunner) connect(ctx context.Context) (*ssh.Client, error) {
	config, err := r.clientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build SSH config: %w", err)
	}

	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))
	dialer := &net.Dialer{Timeout: r.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	if r.cfg.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}

	var auth []ssh.AuthMethod
	if r.cfg.KeyFile != "" {
		data, err := os.ReadFile(r.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		var signer ssh.Signer
		if r.cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(r.cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(data)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if r.cfg.Password != "" {
		auth = append(auth, ssh.Password(r.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh key_file or password is required")
	}

	return &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.cfg.Timeout,
	}, nil
}

// shellJoin quotes each word for a POSIX shell
func shellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = shellQuote(w)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./:=@%+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
