// Package manager ties the registry to the wake, sleep and probe services.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/fgeck/wakesleep/internal/services/probe"
	"github.com/fgeck/wakesleep/internal/services/sleep"
	"github.com/fgeck/wakesleep/internal/services/wol"
	"github.com/rs/zerolog"
)

// Registry is the read side of the device store.
type Registry interface {
	Get(name string) (models.Device, error)
	List() []models.Device
}

// WakeOptions controls a wake request.
type WakeOptions struct {
	Wait  bool // block until the device answers probes
	Force bool // send even if the device already looks awake
}

// Service defines the interface for device power management.
type Service interface {
	Wake(ctx context.Context, name string, opts WakeOptions) (*models.WOLResult, error)
	Sleep(ctx context.Context, name string, force bool) (*models.SleepOutcome, error)
	Status(ctx context.Context, name string) (models.ProbeResult, error)
	StatusAll(ctx context.Context) []models.ProbeResult
	HandleProbe(ctx context.Context, req models.ProbeRequest) (models.ProbeResponse, error)
	HandleSleep(ctx context.Context, req models.SleepRequest) (models.SleepResponse, error)
}

// Impl implements the manager Service interface.
type Impl struct {
	registry    Registry
	probeSvc    probe.Service
	wolSvc      wol.Service
	sleepSvc    sleep.Service
	wolSettings models.WOLSettings
	logger      zerolog.Logger
}

// New creates a new manager with the default services built from cfg.
func New(logger zerolog.Logger, cfg *models.AppConfig, registry Registry) *Impl {
	probeSvc := probe.New(logger, cfg.Probe)
	return &Impl{
		registry:    registry,
		probeSvc:    probeSvc,
		wolSvc:      wol.New(logger, probeSvc),
		sleepSvc:    sleep.New(logger, cfg.SSH),
		wolSettings: cfg.WOL,
		logger:      logger,
	}
}

// NewWithServices creates a new manager with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	registry Registry,
	probeSvc probe.Service,
	wolSvc wol.Service,
	sleepSvc sleep.Service,
	wolSettings models.WOLSettings,
) *Impl {
	return &Impl{
		registry:    registry,
		probeSvc:    probeSvc,
		wolSvc:      wolSvc,
		sleepSvc:    sleepSvc,
		wolSettings: wolSettings,
		logger:      logger,
	}
}

// Wake sends a magic packet to the named device. The returned error is set
// only for lookup failures and failures to send; see WOLResult.Error for
// wait timeouts.
func (s *Impl) Wake(ctx context.Context, name string, opts WakeOptions) (*models.WOLResult, error) {
	device, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if !opts.Force && s.probeSvc.IsAwake(ctx, device) {
		s.logger.Info().Str("device", name).Msg("device is already awake")
		return &models.WOLResult{AlreadyAwake: true, DeviceAwake: true}, nil
	}

	result, err := s.wolSvc.Wake(ctx, models.WOLConfig{
		Target:       device,
		MACAddress:   device.MACAddress,
		BroadcastIP:  s.wolSettings.BroadcastIP,
		Port:         s.wolSettings.Port,
		Wait:         opts.Wait,
		Timeout:      s.wolSettings.WaitTimeout,
		PollInterval: s.wolSettings.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("WOL failed: %w", err)
	}
	if !result.PacketSent {
		return result, fmt.Errorf("WOL failed: %w", result.Error)
	}

	s.logger.Info().
		Str("device", name).
		Bool("packet_sent", result.PacketSent).
		Bool("device_awake", result.DeviceAwake).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return result, nil
}

// Sleep puts the named device to sleep. Unless force is set, a device that
// does not answer probes is reported as already asleep without connecting.
func (s *Impl) Sleep(ctx context.Context, name string, force bool) (*models.SleepOutcome, error) {
	device, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if !device.HasCredential() {
		return nil, fmt.Errorf("%w for device %q", models.ErrMissingCredential, name)
	}

	if !force && !s.probeSvc.IsAwake(ctx, device) {
		s.logger.Info().Str("device", name).Msg("device is already asleep")
		return &models.SleepOutcome{Device: name, AlreadyAsleep: true}, nil
	}

	return s.sleepSvc.Sleep(ctx, device)
}

// Status probes the named device.
func (s *Impl) Status(ctx context.Context, name string) (models.ProbeResult, error) {
	device, err := s.registry.Get(name)
	if err != nil {
		return models.ProbeResult{}, err
	}
	return s.probeSvc.Probe(ctx, device), nil
}

// StatusAll probes every registered device in parallel and returns the
// results sorted by device name.
func (s *Impl) StatusAll(ctx context.Context) []models.ProbeResult {
	devices := s.registry.List()
	byName := s.probeSvc.ProbeAll(ctx, devices)

	results := make([]models.ProbeResult, 0, len(byName))
	for _, r := range byName {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Device < results[j].Device })
	return results
}

// HandleProbe answers a ProbeRequest.
func (s *Impl) HandleProbe(ctx context.Context, req models.ProbeRequest) (models.ProbeResponse, error) {
	result, err := s.Status(ctx, req.DeviceName)
	if err != nil {
		return models.ProbeResponse{}, err
	}
	return models.ProbeResponse{Awake: result.Awake, Result: result}, nil
}

// HandleSleep answers a SleepRequest. Detail always carries a human-readable
// summary, including on error.
func (s *Impl) HandleSleep(ctx context.Context, req models.SleepRequest) (models.SleepResponse, error) {
	outcome, err := s.Sleep(ctx, req.DeviceName, false)
	if err != nil {
		return models.SleepResponse{Detail: Describe(err)}, err
	}
	return models.SleepResponse{Outcome: outcome, Detail: Summary(outcome)}, nil
}

// Summary renders a successful sleep outcome.
func Summary(outcome *models.SleepOutcome) string {
	switch {
	case outcome == nil:
		return ""
	case outcome.AlreadyAsleep:
		return "device is already asleep"
	case outcome.Family == models.OSUnknown:
		return "OS not recognised, sent every known sleep command without confirmation"
	case outcome.Confirmed:
		return fmt.Sprintf("%s accepted %q", outcome.Family, outcome.Command)
	default:
		return fmt.Sprintf("sent %q to %s, connection dropped as the device went down", outcome.Command, outcome.Family)
	}
}

// Describe renders err the way the CLI reports sleep failures.
func Describe(err error) string {
	var (
		connErr      *models.ConnectionError
		exhaustedErr *models.CommandExhaustionError
		dispatchErr  *models.DispatchError
		validErr     *models.ValidationError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, models.ErrNotFound):
		return "device not found"
	case errors.Is(err, models.ErrMissingCredential):
		return "no SSH credentials configured; add them with 'wakesleep add ssh'"
	case errors.As(err, &connErr):
		return fmt.Sprintf("could not connect to %s: %v", connErr.Host, connErr.Err)
	case errors.As(err, &exhaustedErr):
		return fmt.Sprintf("all %d %s sleep commands failed: %v", len(exhaustedErr.Attempts), exhaustedErr.Family, exhaustedErr.LastErr)
	case errors.As(err, &dispatchErr):
		return fmt.Sprintf("sleep aborted: %v", dispatchErr.Err)
	case errors.As(err, &validErr):
		return validErr.Error()
	default:
		return err.Error()
	}
}
