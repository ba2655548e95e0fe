package remote

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"go.uber.org/zap"
)

const (
	// DefaultPort for SSH
	DefaultPort = 22

	// DefaultUsername on TorizonCore devices
	DefaultUsername = "torizon"

	// DefaultTimeout to establish a connection
	DefaultTimeout = 30 * time.Second

	maxErrorOutput = 4096
)

// Config to reach a device
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// KeyFile is a PEM private key, tried before the password
	KeyFile string

	// KnownHosts is an OpenSSH known_hosts file used to verify the device key.
	// Without it, host keys are accepted.
	KnownHosts string

	Timeout time.Duration
}

func (c Config) address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Command to run on a device
type Command struct {
	// Line is handed to the login shell of the remote user
	Line string

	// Sudo runs the line as root, feeding the password to sudo first
	Sudo bool

	Stdin  io.Reader
	Stdout io.Writer
}

// Transport runs commands on a device
type Transport interface {
	Run(context.Context, Command) error
	Close() error
}

var _ Transport = &Client{}

// Client is an SSH connection to a device. Commands may run concurrently.
type Client struct {
	cfg  Config
	conn *ssh.Client
	l    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Option for Dial
type Option func(*Client)

// WithLogger for the client
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.l = l
		}
	}
}

// Dial connects to a device
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg, l: zap.NewNop()}
	for _, apply := range opts {
		apply(c)
	}
	if cfg.Host == "" {
		return nil, ErrNoHost
	}
	if c.cfg.Username == "" {
		c.cfg.Username = DefaultUsername
	}
	if c.cfg.Timeout == 0 {
		c.cfg.Timeout = DefaultTimeout
	}

	sshConfig, err := c.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := c.cfg.address()
	logger := c.l.With(zap.String("address", addr), zap.String("username", c.cfg.Username))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	var d net.Dialer
	netConn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, ErrUnreachable.WrapMessage("%s", addr).Wrap(err)
	}
	deadline, _ := dialCtx.Deadline()
	_ = netConn.SetDeadline(deadline)
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, ErrUnreachable.WrapMessage("%s", addr).Wrap(err)
	}
	_ = netConn.SetDeadline(time.Time{})
	c.conn = ssh.NewClient(sshConn, chans, reqs)
	logger.Debug("connected to device")
	return c, nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.cfg.KeyFile != "" {
		pem, err := ioutil.ReadFile(c.cfg.KeyFile)
		if err != nil {
			return nil, ErrUnreachable.WrapMessage("key file %s", c.cfg.KeyFile).Wrap(err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, ErrUnreachable.WrapMessage("key file %s", c.cfg.KeyFile).Wrap(err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	password := c.cfg.Password
	auth = append(auth,
		ssh.Password(password),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	)

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(c.cfg.KnownHosts)
		if err != nil {
			return nil, ErrUnreachable.WrapMessage("known hosts %s", c.cfg.KnownHosts).Wrap(err)
		}
		hostKey = cb
	} else {
		c.l.Debug("host key not verified", zap.String("host", c.cfg.Host))
	}

	return &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.cfg.Timeout,
	}, nil
}

// Run a command, waiting for it to complete.
//
// Cancelling the context closes the session, which terminates the remote command.
func (c *Client) Run(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return ErrUnreachable.Wrap(err)
	}
	defer session.Close()

	line := cmd.Line
	stdin := cmd.Stdin
	if cmd.Sudo {
		line = "sudo -S -p '' sh -c " + Quote(cmd.Line)
		feed := strings.NewReader(c.cfg.Password + "\n")
		if stdin == nil {
			stdin = feed
		} else {
			stdin = io.MultiReader(feed, stdin)
		}
	}
	if stdin != nil {
		session.Stdin = stdin
	}
	var stderr limitedBuffer
	session.Stderr = &stderr
	if cmd.Stdout != nil {
		session.Stdout = cmd.Stdout
	}

	c.l.Debug("running", zap.String("command", cmd.Line), zap.Bool("sudo", cmd.Sudo))
	if err := session.Start(line); err != nil {
		return ErrCommand.WrapMessage("%s", cmd.Line).Wrap(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-done
		return ErrCommand.WrapMessage("%s", cmd.Line).Wrap(ctx.Err())
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return ErrCommand.WrapMessage("%s: %s", cmd.Line, msg).Wrap(err)
		}
		return ErrCommand.WrapMessage("%s", cmd.Line).Wrap(err)
	}
	return nil
}

// Output runs a command and returns its standard output
func (c *Client) Output(ctx context.Context, line string, sudo bool) ([]byte, error) {
	return Output(ctx, c, line, sudo)
}

// Output runs a command on any transport and returns its standard output
func Output(ctx context.Context, t Transport, line string, sudo bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Run(ctx, Command{Line: line, Sudo: sudo, Stdout: &buf}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Forward serves h on addr of the device, through the connection, until the returned closer
// is called. The device must allow TCP forwarding from its side.
func (c *Client) Forward(addr string, h http.Handler) (io.Closer, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ln, err := c.conn.Listen("tcp", addr)
	if err != nil {
		return nil, ErrForward.WrapMessage("%s", addr).Wrap(err)
	}
	f := &forward{
		srv:  &http.Server{Handler: h, ReadHeaderTimeout: c.cfg.Timeout},
		done: make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		if err := f.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.l.Warn("stopped serving to the device", zap.String("address", addr), zap.Error(err))
		}
	}()
	c.l.Debug("serving to the device", zap.String("address", addr))
	return f, nil
}

type forward struct {
	srv  *http.Server
	done chan struct{}
}

func (f *forward) Close() error {
	err := f.srv.Close()
	<-f.done
	return err
}

// Close the connection. It is safe to call Close more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// limitedBuffer keeps the first bytes of an error output
type limitedBuffer struct {
	bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxErrorOutput - b.Len(); room > 0 {
		if len(p) > room {
			_, _ = b.Buffer.Write(p[:room])
		} else {
			_, _ = b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
