//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/fgeck/wakesleep/internal/services/fingerprint"
	"github.com/fgeck/wakesleep/internal/services/sleep"
	"github.com/fgeck/wakesleep/internal/services/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSSHTarget(t *testing.T) (models.Device, models.SSHSettings) {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	cred, err := models.NewKeyCredential(user, keyPath)
	require.NoError(t, err)

	device := models.Device{
		Name:       "e2e",
		IPAddress:  host,
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Credential: cred,
	}

	settings := models.SSHSettings{
		Port:           port,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 10 * time.Second,
		KnownHostsPath: t.TempDir() + "/known_hosts",
	}

	return device, settings
}

func TestSSHExec_E2E(t *testing.T) {
	device, settings := getSSHTarget(t)

	svc := ssh.New(testLogger(), settings)

	session, err := svc.Open(context.Background(), device, *device.Credential)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	result, err := session.Exec(context.Background(), "echo OK")

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitStatus)
	assert.Contains(t, result.Stdout, "OK")
}

func TestSSHKnownHostsRecorded_E2E(t *testing.T) {
	device, settings := getSSHTarget(t)

	svc := ssh.New(testLogger(), settings)

	for range 2 {
		session, err := svc.Open(context.Background(), device, *device.Credential)
		require.NoError(t, err)
		require.NoError(t, session.Close())
	}

	data, err := os.ReadFile(settings.KnownHostsPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestSSHFingerprint_E2E(t *testing.T) {
	device, settings := getSSHTarget(t)

	session, err := ssh.New(testLogger(), settings).Open(context.Background(), device, *device.Credential)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	family := fingerprint.New(testLogger()).Classify(context.Background(), session)

	assert.NotEqual(t, models.OSUnknown, family)
}

func TestSSHConnectionFailed_E2E(t *testing.T) {
	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	cred, err := models.NewKeyCredential("root", keyPath)
	require.NoError(t, err)

	device := models.Device{
		Name:       "unroutable",
		IPAddress:  "192.168.255.254",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Credential: cred,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := ssh.New(testLogger(), models.SSHSettings{Port: 22, ConnectTimeout: 2 * time.Second})

	_, err = svc.Open(ctx, device, *cred)

	var connErr *models.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

// WARNING: This test will actually suspend the target!
// Only run if you really want to test sleep functionality.
func TestSleep_E2E(t *testing.T) {
	if os.Getenv("TEST_SSH_SLEEP_ENABLED") != "true" {
		t.Skip("TEST_SSH_SLEEP_ENABLED is not true - skipping actual sleep test")
	}

	device, settings := getSSHTarget(t)
	settings.Escalate = true

	outcome, err := sleep.New(testLogger(), settings).Sleep(context.Background(), device)

	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.NotEmpty(t, outcome.Command)
}
