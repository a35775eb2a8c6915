// Package ssh opens authenticated SSH sessions to registered devices.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrSessionDropped is returned by Exec when the connection went away
	// before the command reported an exit status.
	ErrSessionDropped = errors.New("session dropped before command completed")

	// ErrCommandTimeout is returned by Exec when the command did not finish in time.
	ErrCommandTimeout = errors.New("command timed out")
)

// Opener opens remote sessions.
type Opener interface {
	Open(ctx context.Context, device models.Device, cred models.Credential) (Session, error)
}

// Session is an open connection to a device. Close is safe to call more than once.
type Session interface {
	Exec(ctx context.Context, command string) (models.ExecResult, error)
	Start(command string) error
	Close() error
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	Run(cmd string, stdout, stderr io.Writer) error
	Start(cmd string) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string, stdout, stderr io.Writer) error {
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) Start(cmd string) error {
	return s.session.Start(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements Opener over golang.org/x/crypto/ssh.
type Impl struct {
	clientFactory ClientFactory
	settings      models.SSHSettings
	logger        zerolog.Logger
	knownHostsMu  sync.Mutex
}

// New creates a new SSH service.
func New(logger zerolog.Logger, settings models.SSHSettings) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		settings:      settings,
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, settings models.SSHSettings, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		settings:      settings,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(cred models.Credential) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	switch cred.Mode() {
	case models.CredentialPassword:
		password := cred.Password
		auth = []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}
	case models.CredentialKeyFile:
		keyPath := cred.ResolvedKeyPath()
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", keyPath, err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		return nil, fmt.Errorf("no password or private key provided")
	}

	return &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            auth,
		HostKeyCallback: s.hostKeyCallback(),
		Timeout:         s.settings.ConnectTimeout,
	}, nil
}

// Open dials the device and authenticates. Every failure is a *models.ConnectionError.
func (s *Impl) Open(ctx context.Context, device models.Device, cred models.Credential) (Session, error) {
	addr := net.JoinHostPort(device.IPAddress, strconv.Itoa(s.settings.Port))

	s.logger.Debug().
		Str("device", device.Name).
		Str("host", addr).
		Str("user", cred.Username).
		Msg("opening SSH session")

	sshConfig, err := s.buildConfig(cred)
	if err != nil {
		return nil, &models.ConnectionError{Host: addr, Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.settings.ConnectTimeout)
	defer cancel()

	type dialResult struct {
		client SSHClient
		err    error
	}
	clientChan := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- dialResult{client, err}
	}()

	select {
	case <-dialCtx.Done():
		// Release a client that completes after we gave up on it.
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, &models.ConnectionError{Host: addr, Err: dialCtx.Err()}
	case res := <-clientChan:
		if res.err != nil {
			return nil, &models.ConnectionError{Host: addr, Err: res.err}
		}

		s.logger.Debug().Str("device", device.Name).Str("host", addr).Msg("SSH session established")

		return &session{
			client:         res.client,
			host:           addr,
			commandTimeout: s.settings.CommandTimeout,
			logger:         s.logger,
		}, nil
	}
}

type session struct {
	client         SSHClient
	host           string
	commandTimeout time.Duration
	logger         zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Exec runs command and waits for it to finish or for the command timeout.
// A non-zero exit status is reported in the result, not as an error.
func (s *session) Exec(ctx context.Context, command string) (models.ExecResult, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		if isDrop(err) {
			return models.ExecResult{}, fmt.Errorf("%w: %w", ErrSessionDropped, err)
		}
		return models.ExecResult{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	cmdCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)

	go func() {
		done <- sess.Run(command, &stdout, &stderr)
	}()

	select {
	case <-cmdCtx.Done():
		_ = sess.Close()
		if ctx.Err() != nil {
			return models.ExecResult{}, ctx.Err()
		}
		return models.ExecResult{}, fmt.Errorf("%w after %s", ErrCommandTimeout, s.commandTimeout)
	case err := <-done:
		result := models.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}

		var exit exitStatuser
		if errors.As(err, &exit) {
			result.ExitStatus = exit.ExitStatus()
			return result, nil
		}

		if isDrop(err) {
			return result, fmt.Errorf("%w: %w", ErrSessionDropped, err)
		}

		return result, err
	}
}

// Start issues command without waiting for it to finish.
func (s *session) Start(command string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if err := sess.Start(command); err != nil {
		_ = sess.Close()
		return err
	}

	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
		s.logger.Debug().Str("host", s.host).Msg("SSH session closed")
	})
	return s.closeErr
}

// exitStatuser matches *ssh.ExitError.
type exitStatuser interface {
	ExitStatus() int
}

func isDrop(err error) bool {
	var missing *ssh.ExitMissingError
	return errors.As(err, &missing) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
