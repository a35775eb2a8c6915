package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Mock implementations
type mockSSHSession struct {
	runFunc   func(cmd string, stdout, stderr io.Writer) error
	startFunc func(cmd string) error
	closeFunc func() error
}

func (m *mockSSHSession) Run(cmd string, stdout, stderr io.Writer) error {
	if m.runFunc != nil {
		return m.runFunc(cmd, stdout, stderr)
	}
	return nil
}

func (m *mockSSHSession) Start(cmd string) error {
	if m.startFunc != nil {
		return m.startFunc(cmd)
	}
	return nil
}

func (m *mockSSHSession) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockSSHClient struct {
	newSessionFunc func() (SSHSession, error)
	closeFunc      func() error
}

func (m *mockSSHClient) NewSession() (SSHSession, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSSHSession{}, nil
}

func (m *mockSSHClient) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

type exitErr struct{ status int }

func (e *exitErr) Error() string   { return "Process exited with status" }
func (e *exitErr) ExitStatus() int { return e.status }

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// generateTestKey generates a valid ed25519 key for testing using crypto/ed25519.
func generateTestKey(t *testing.T) []byte {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	return pem.EncodeToMemory(pemBlock)
}

func generateHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	return key
}

func testSettings() models.SSHSettings {
	return models.SSHSettings{
		Port:           22,
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
	}
}

func testDevice() models.Device {
	return models.Device{Name: "desk1", IPAddress: "192.168.1.100", MACAddress: "aa:bb:cc:dd:ee:ff"}
}

func passwordCred() models.Credential {
	return models.Credential{Username: "u", Password: "p"}
}

func openSession(t *testing.T, client SSHClient) Session {
	t.Helper()

	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return client, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), testSettings(), factory)
	sess, err := svc.Open(context.Background(), testDevice(), passwordCred())
	require.NoError(t, err)

	return sess
}

func TestOpen_PasswordCredential(t *testing.T) {
	var capturedAddr string
	var capturedConfig *ssh.ClientConfig

	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			capturedAddr = addr
			capturedConfig = config
			return &mockSSHClient{}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), testSettings(), factory)
	sess, err := svc.Open(context.Background(), testDevice(), passwordCred())

	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "192.168.1.100:22", capturedAddr)
	assert.Equal(t, "u", capturedConfig.User)
	assert.Len(t, capturedConfig.Auth, 2)
	assert.Equal(t, time.Second, capturedConfig.Timeout)
}

func TestOpen_KeyCredential(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, generateTestKey(t), 0o600))

	var capturedConfig *ssh.ClientConfig
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			capturedConfig = config
			return &mockSSHClient{}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), testSettings(), factory)
	_, err := svc.Open(context.Background(), testDevice(), models.Credential{Username: "root", KeyPath: keyPath})

	require.NoError(t, err)
	assert.Equal(t, "root", capturedConfig.User)
	assert.Len(t, capturedConfig.Auth, 1)
}

func TestOpen_KeyPathNotFound(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), testSettings(), &mockClientFactory{})

	_, err := svc.Open(context.Background(), testDevice(), models.Credential{Username: "root", KeyPath: "/nonexistent/path/id_rsa"})

	var connErr *models.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "failed to read private key")
}

func TestOpen_InvalidPrivateKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "bad_key")
	require.NoError(t, os.WriteFile(keyPath, []byte("invalid key"), 0o600))

	svc := NewWithClientFactory(testLogger(), testSettings(), &mockClientFactory{})
	_, err := svc.Open(context.Background(), testDevice(), models.Credential{Username: "root", KeyPath: keyPath})

	var connErr *models.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "failed to parse private key")
}

func TestOpen_NoSecret(t *testing.T) {
	svc := NewWithClientFactory(testLogger(), testSettings(), &mockClientFactory{})

	_, err := svc.Open(context.Background(), testDevice(), models.Credential{Username: "root"})

	var connErr *models.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "no password or private key")
}

func TestOpen_ConnectionFailed(t *testing.T) {
	cause := errors.New("connection refused")
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, cause
		},
	}

	svc := NewWithClientFactory(testLogger(), testSettings(), factory)
	_, err := svc.Open(context.Background(), testDevice(), passwordCred())

	var connErr *models.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "192.168.1.100:22", connErr.Host)
}

func TestOpen_ConnectTimeoutClosesLateClient(t *testing.T) {
	var closed atomic.Bool
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			time.Sleep(100 * time.Millisecond)
			return &mockSSHClient{closeFunc: func() error {
				closed.Store(true)
				return nil
			}}, nil
		},
	}

	settings := testSettings()
	settings.ConnectTimeout = 10 * time.Millisecond

	svc := NewWithClientFactory(testLogger(), settings, factory)
	_, err := svc.Open(context.Background(), testDevice(), passwordCred())

	var connErr *models.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Eventually(t, closed.Load, time.Second, 10*time.Millisecond)
}

func TestExec_SeparatesOutputStreams(t *testing.T) {
	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return &mockSSHSession{
				runFunc: func(cmd string, stdout, stderr io.Writer) error {
					_, _ = io.WriteString(stdout, "Linux\n")
					_, _ = io.WriteString(stderr, "warning\n")
					return nil
				},
			}, nil
		},
	}

	sess := openSession(t, client)
	result, err := sess.Exec(context.Background(), "uname -s")

	require.NoError(t, err)
	assert.Equal(t, "Linux\n", result.Stdout)
	assert.Equal(t, "warning\n", result.Stderr)
	assert.Equal(t, 0, result.ExitStatus)
}

func TestExec_NonZeroExitIsNotAnError(t *testing.T) {
	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return &mockSSHSession{
				runFunc: func(cmd string, stdout, stderr io.Writer) error {
					_, _ = io.WriteString(stderr, "sudo: a password is required\n")
					return &exitErr{status: 1}
				},
			}, nil
		},
	}

	sess := openSession(t, client)
	result, err := sess.Exec(context.Background(), "sudo -n systemctl suspend")

	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitStatus)
	assert.Contains(t, result.Stderr, "password is required")
}

func TestExec_SessionDropped(t *testing.T) {
	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return &mockSSHSession{
				runFunc: func(cmd string, stdout, stderr io.Writer) error {
					return &ssh.ExitMissingError{}
				},
			}, nil
		},
	}

	sess := openSession(t, client)
	_, err := sess.Exec(context.Background(), "systemctl suspend")

	assert.ErrorIs(t, err, ErrSessionDropped)
}

func TestExec_NewSessionAfterConnectionLoss(t *testing.T) {
	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return nil, io.EOF
		},
	}

	sess := openSession(t, client)
	_, err := sess.Exec(context.Background(), "pm-suspend")

	assert.ErrorIs(t, err, ErrSessionDropped)
}

func TestExec_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return &mockSSHSession{
				runFunc: func(cmd string, stdout, stderr io.Writer) error {
					<-release
					return nil
				},
			}, nil
		},
	}

	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return client, nil
		},
	}
	settings := testSettings()
	settings.CommandTimeout = 20 * time.Millisecond

	svc := NewWithClientFactory(testLogger(), settings, factory)
	sess, err := svc.Open(context.Background(), testDevice(), passwordCred())
	require.NoError(t, err)

	_, err = sess.Exec(context.Background(), "systemctl suspend")

	assert.ErrorIs(t, err, ErrCommandTimeout)
}

func TestStart_DoesNotWait(t *testing.T) {
	var started string
	client := &mockSSHClient{
		newSessionFunc: func() (SSHSession, error) {
			return &mockSSHSession{
				startFunc: func(cmd string) error {
					started = cmd
					return nil
				},
				runFunc: func(cmd string, stdout, stderr io.Writer) error {
					t.Fatal("Run must not be called for fire-and-forget")
					return nil
				},
			}, nil
		},
	}

	sess := openSession(t, client)

	require.NoError(t, sess.Start("shutdown /h"))
	assert.Equal(t, "shutdown /h", started)
}

func TestClose_Idempotent(t *testing.T) {
	var closes atomic.Int32
	client := &mockSSHClient{
		closeFunc: func() error {
			closes.Add(1)
			return nil
		},
	}

	sess := openSession(t, client)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, int32(1), closes.Load())
}

func TestTrustOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "known_hosts")

	settings := testSettings()
	settings.KnownHostsPath = path
	svc := NewWithClientFactory(testLogger(), settings, &mockClientFactory{})

	callback := svc.hostKeyCallback()
	remote := &net.TCPAddr{IP: net.ParseIP("192.168.1.100"), Port: 22}
	key := generateHostKey(t)

	// First contact is accepted and recorded.
	require.NoError(t, callback("192.168.1.100:22", remote, key))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "192.168.1.100 ssh-ed25519 ")

	// Same key again is accepted without a second record.
	require.NoError(t, callback("192.168.1.100:22", remote, key))
	again, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	// A changed key is rejected.
	err = callback("192.168.1.100:22", remote, generateHostKey(t))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "host key verification failed")

	// Another host is trusted independently.
	other := &net.TCPAddr{IP: net.ParseIP("192.168.1.101"), Port: 22}
	require.NoError(t, callback("192.168.1.101:22", other, generateHostKey(t)))
}
