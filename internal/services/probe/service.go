// Package probe decides whether devices are awake.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for liveness probing.
type Service interface {
	IsAwake(ctx context.Context, device models.Device) bool
	Probe(ctx context.Context, device models.Device) models.ProbeResult
	CheckAll(ctx context.Context, devices []models.Device) map[string]bool
	ProbeAll(ctx context.Context, devices []models.Device) map[string]models.ProbeResult
}

// Dialer wraps net.Dialer for mocking.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Pinger sends one ICMP echo request with the given payload size and waits
// for the matching reply until ctx expires. It returns ErrNoReply when
// nothing answered in time.
type Pinger interface {
	Ping(ctx context.Context, ip string, payloadSize int) (time.Duration, error)
}

// Impl implements the probe Service interface.
type Impl struct {
	dialer   Dialer
	pinger   Pinger
	settings models.ProbeSettings
	logger   zerolog.Logger
}

// New creates a new probe service.
func New(logger zerolog.Logger, settings models.ProbeSettings) *Impl {
	return &Impl{
		dialer:   &net.Dialer{},
		pinger:   NewICMPPinger(),
		settings: settings,
		logger:   logger,
	}
}

// NewWithClients creates a new probe service with custom network clients (for testing).
func NewWithClients(logger zerolog.Logger, settings models.ProbeSettings, dialer Dialer, pinger Pinger) *Impl {
	return &Impl{
		dialer:   dialer,
		pinger:   pinger,
		settings: settings,
		logger:   logger,
	}
}

// IsAwake reports whether the device answered any probe. It never fails;
// probe errors count as asleep.
func (s *Impl) IsAwake(ctx context.Context, device models.Device) bool {
	return s.Probe(ctx, device).Awake
}

// Probe runs the TCP connect stage and, if no port accepts, the double ICMP
// echo stage.
func (s *Impl) Probe(ctx context.Context, device models.Device) (result models.ProbeResult) {
	start := time.Now()
	result = models.ProbeResult{
		Device:  device.Name,
		Verdict: models.VerdictAsleep,
		Channel: models.ChannelNone,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Awake = false
			result.Verdict = models.VerdictErrored
			result.Channel = models.ChannelNone
			result.Error = fmt.Errorf("probe panicked: %v", r)
		}
		result.Duration = time.Since(start)

		s.logger.Debug().
			Str("device", device.Name).
			Str("ip", device.IPAddress).
			Str("verdict", result.Verdict.String()).
			Str("channel", string(result.Channel)).
			Dur("duration", result.Duration).
			AnErr("probe_error", result.Error).
			Msg("probe finished")
	}()

	// Stage 1: a completed handshake on any port is the strongest signal.
	for _, port := range s.settings.Ports {
		if ctx.Err() != nil {
			result.Verdict = models.VerdictErrored
			result.Error = ctx.Err()
			return result
		}

		rtt, err := s.connect(ctx, device.IPAddress, port)
		if err == nil {
			result.Awake = true
			result.Verdict = models.VerdictAwake
			result.Channel = models.ChannelTCP
			result.Port = port
			result.RTT = rtt
			return result
		}

		s.logger.Debug().Err(err).Str("device", device.Name).Int("port", port).Msg("tcp probe failed")
	}

	if ctx.Err() != nil {
		result.Verdict = models.VerdictErrored
		result.Error = ctx.Err()
		return result
	}

	// Stage 2: two echoes with different payloads must both come back.
	sizes := s.settings.EchoPayloadSizes
	rtt, err := s.echo(ctx, device.IPAddress, sizes[0])
	if err != nil {
		s.recordEchoFailure(ctx, &result, err)
		return result
	}

	if _, err := s.echo(ctx, device.IPAddress, sizes[1]); err != nil {
		s.logger.Debug().Err(err).Str("device", device.Name).Msg("confirming echo failed")
		s.recordEchoFailure(ctx, &result, err)
		return result
	}

	result.Awake = true
	result.Verdict = models.VerdictAwake
	result.Channel = models.ChannelICMP
	result.RTT = rtt

	return result
}

// CheckAll probes every device concurrently and returns one verdict per device name.
func (s *Impl) CheckAll(ctx context.Context, devices []models.Device) map[string]bool {
	results := s.ProbeAll(ctx, devices)

	awake := make(map[string]bool, len(results))
	for name, r := range results {
		awake[name] = r.Awake
	}

	return awake
}

// ProbeAll probes every device concurrently. A failing probe never affects
// its siblings and is recorded rather than omitted.
func (s *Impl) ProbeAll(ctx context.Context, devices []models.Device) map[string]models.ProbeResult {
	results := make([]models.ProbeResult, len(devices))

	var g errgroup.Group
	if s.settings.Concurrency > 0 {
		g.SetLimit(s.settings.Concurrency)
	}

	for i, device := range devices {
		g.Go(func() error {
			results[i] = s.Probe(ctx, device)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]models.ProbeResult, len(devices))
	for _, r := range results {
		out[r.Device] = r
	}

	return out
}

func (s *Impl) connect(ctx context.Context, ip string, port int) (time.Duration, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.settings.ConnectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := s.dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	_ = conn.Close()

	return time.Since(start), nil
}

func (s *Impl) echo(ctx context.Context, ip string, payloadSize int) (time.Duration, error) {
	echoCtx, cancel := context.WithTimeout(ctx, s.settings.EchoTimeout)
	defer cancel()

	return s.pinger.Ping(echoCtx, ip, payloadSize)
}

// recordEchoFailure keeps "nothing answered" apart from "could not probe".
// A missing reply only counts as asleep if the caller was still waiting.
func (s *Impl) recordEchoFailure(ctx context.Context, result *models.ProbeResult, err error) {
	result.Error = err
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.Verdict = models.VerdictErrored
		result.Error = ctxErr
		return
	}
	if errors.Is(err, ErrNoReply) {
		result.Verdict = models.VerdictAsleep
		return
	}
	result.Verdict = models.VerdictErrored
}
