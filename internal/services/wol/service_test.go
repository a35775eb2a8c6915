package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(addr string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(addr string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(addr, mac)
	}
	return nil
}

type mockWaiter struct {
	calls       atomic.Int32
	isAwakeFunc func(n int32) bool
}

func (m *mockWaiter) IsAwake(ctx context.Context, device models.Device) bool {
	n := m.calls.Add(1)
	if m.isAwakeFunc != nil {
		return m.isAwakeFunc(n)
	}
	return true
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testTarget() models.Device {
	return models.Device{Name: "desk1", IPAddress: "192.168.1.10", MACAddress: "aa:bb:cc:dd:ee:ff"}
}

func TestWake_Success_NoWait(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedAddr string

	wolClient := &mockWOLClient{
		wakeFunc: func(addr string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedAddr = addr
			return nil
		},
	}
	waiter := &mockWaiter{}

	svc := NewWithClients(testLogger(), wolClient, waiter)

	cfg := models.WOLConfig{
		Target:      testTarget(),
		MACAddress:  "AA-BB-CC-DD-EE-FF",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.DeviceAwake)
	assert.Nil(t, result.Error)
	assert.Zero(t, waiter.calls.Load())

	expectedMAC, _ := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255:9", capturedAddr)
}

func TestWake_CustomPort(t *testing.T) {
	var capturedAddr string
	wolClient := &mockWOLClient{
		wakeFunc: func(addr string, mac net.HardwareAddr) error {
			capturedAddr = addr
			return nil
		},
	}

	svc := NewWithClients(testLogger(), wolClient, nil)

	result, err := svc.Wake(context.Background(), models.WOLConfig{
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		BroadcastIP: "255.255.255.255",
		Port:        7,
	})

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.Equal(t, "255.255.255.255:7", capturedAddr)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, nil)

	cfg := models.WOLConfig{
		MACAddress:  "invalid-mac",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_InvalidBroadcast(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, nil)

	result, err := svc.Wake(context.Background(), models.WOLConfig{
		MACAddress:  "aa:bb:cc:dd:ee:ff",
		BroadcastIP: "not-an-ip",
	})

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid broadcast IP")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(addr string, mac net.HardwareAddr) error {
			return errors.New("network error")
		},
	}

	svc := NewWithClients(testLogger(), wolClient, nil)

	cfg := models.WOLConfig{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "network error")
}

func TestWake_Wait_ImmediatelyAwake(t *testing.T) {
	waiter := &mockWaiter{}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, waiter)

	cfg := models.WOLConfig{
		Target:       testTarget(),
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Wait:         true,
		Timeout:      10 * time.Second,
		PollInterval: time.Second,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.DeviceAwake)
	assert.Nil(t, result.Error)
	assert.Equal(t, int32(1), waiter.calls.Load())
}

func TestWake_Wait_DelayedAwake(t *testing.T) {
	waiter := &mockWaiter{isAwakeFunc: func(n int32) bool { return n >= 3 }}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, waiter)

	cfg := models.WOLConfig{
		Target:       testTarget(),
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Wait:         true,
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.DeviceAwake)
	assert.Nil(t, result.Error)
	assert.GreaterOrEqual(t, waiter.calls.Load(), int32(3))
}

func TestWake_Wait_Timeout(t *testing.T) {
	waiter := &mockWaiter{isAwakeFunc: func(int32) bool { return false }}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, waiter)

	cfg := models.WOLConfig{
		Target:       testTarget(),
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Wait:         true,
		Timeout:      50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.DeviceAwake)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timeout")
}

func TestWake_Wait_ContextCancelled(t *testing.T) {
	waiter := &mockWaiter{isAwakeFunc: func(int32) bool { return false }}
	svc := NewWithClients(testLogger(), &mockWOLClient{}, waiter)

	ctx, cancel := context.WithCancel(context.Background())

	cfg := models.WOLConfig{
		Target:       testTarget(),
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Wait:         true,
		Timeout:      10 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := svc.Wake(ctx, cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.DeviceAwake)
	assert.Equal(t, context.Canceled, result.Error)
}
