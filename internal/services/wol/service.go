// Package wol provides Wake-on-LAN operations.
package wol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// DefaultPort is the discard port conventionally used for magic packets.
const DefaultPort = 9

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(addr string, mac net.HardwareAddr) error
}

// Waiter reports whether a device is answering. Satisfied by the probe service.
type Waiter interface {
	IsAwake(ctx context.Context, device models.Device) bool
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet for mac to the broadcast address addr (host:port).
func (c *DefaultClient) Wake(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	waiter    Waiter
	logger    zerolog.Logger
}

// New creates a new WOL service. waiter may be nil when waiting is never requested.
func New(logger zerolog.Logger, waiter Waiter) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		waiter:    waiter,
		logger:    logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, waiter Waiter) *Impl {
	return &Impl{
		wolClient: wolClient,
		waiter:    waiter,
		logger:    logger,
	}
}

// Wake sends a WOL packet and optionally waits for the device to answer probes.
// Sending is the only step that can fail the wake; no acknowledgment exists.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	ip := net.ParseIP(cfg.BroadcastIP)
	if ip == nil || ip.To4() == nil {
		result.Error = fmt.Errorf("invalid broadcast IP: %s", cfg.BroadcastIP)
		return result, nil
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	s.logger.Info().
		Str("device", cfg.Target.Name).
		Str("mac", cfg.MACAddress).
		Str("broadcast", addr).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(addr, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is reported via result.Error
	}

	result.PacketSent = true
	s.logger.Info().Msg("WOL packet sent successfully")

	if !cfg.Wait || s.waiter == nil {
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("device", cfg.Target.Name).
		Str("ip", cfg.Target.IPAddress).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for device to wake up")

	if err := s.waitForDevice(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is reported via result.Error
	}

	result.DeviceAwake = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Str("device", cfg.Target.Name).
		Dur("duration", result.WaitDuration).
		Msg("device is awake")

	return result, nil
}

func (s *Impl) waitForDevice(ctx context.Context, cfg models.WOLConfig) error {
	deadline := time.Now().Add(cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s to wake up", cfg.Target.Name)
		}

		if s.waiter.IsAwake(ctx, cfg.Target) {
			return nil
		}

		s.logger.Debug().Str("device", cfg.Target.Name).Msg("device not awake yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}
