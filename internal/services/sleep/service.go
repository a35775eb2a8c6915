// Package sleep puts devices to sleep over SSH.
package sleep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/fgeck/wakesleep/internal/services/fingerprint"
	"github.com/fgeck/wakesleep/internal/services/ssh"
	"github.com/rs/zerolog"
)

// Service defines the interface for sleep dispatch.
type Service interface {
	Sleep(ctx context.Context, device models.Device) (*models.SleepOutcome, error)
}

// Impl implements the sleep Service interface.
type Impl struct {
	opener        ssh.Opener
	fingerprinter fingerprint.Service
	escalate      bool
	logger        zerolog.Logger
}

// New creates a new sleep service.
func New(logger zerolog.Logger, settings models.SSHSettings) *Impl {
	return &Impl{
		opener:        ssh.New(logger, settings),
		fingerprinter: fingerprint.New(logger),
		escalate:      settings.Escalate,
		logger:        logger,
	}
}

// NewWithServices creates a new sleep service with custom collaborators (for testing).
func NewWithServices(logger zerolog.Logger, opener ssh.Opener, fingerprinter fingerprint.Service, escalate bool) *Impl {
	return &Impl{
		opener:        opener,
		fingerprinter: fingerprinter,
		escalate:      escalate,
		logger:        logger,
	}
}

// Sleep opens a session, classifies the remote OS and walks its suspend
// ladder. It fails with models.ErrMissingCredential before any network
// traffic, with *models.ConnectionError when the session cannot be opened,
// with *models.CommandExhaustionError when every command failed, and with
// *models.DispatchError for anything unexpected.
func (s *Impl) Sleep(ctx context.Context, device models.Device) (outcome *models.SleepOutcome, err error) {
	start := time.Now()

	if !device.HasCredential() {
		return nil, fmt.Errorf("%w for device %q", models.ErrMissingCredential, device.Name)
	}

	s.logger.Info().
		Str("device", device.Name).
		Str("ip", device.IPAddress).
		Str("user", device.Credential.Username).
		Msg("putting device to sleep")

	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = &models.DispatchError{Device: device.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	sess, err := s.opener.Open(ctx, device, *device.Credential)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Str("device", device.Name).Msg("closing session")
		}
	}()

	family := s.fingerprinter.Classify(ctx, sess)
	l := ladderFor(family, s.escalate)

	outcome = &models.SleepOutcome{
		Device: device.Name,
		Family: family,
	}

	if l.confirm {
		err = s.runLadder(ctx, sess, device, l, outcome)
	} else {
		err = s.fireAll(ctx, sess, device, l, outcome)
	}
	outcome.Duration = time.Since(start)

	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("device", device.Name).
		Str("os", family.String()).
		Str("command", outcome.Command).
		Bool("confirmed", outcome.Confirmed).
		Msg("sleep command sent")

	return outcome, nil
}

// runLadder stops at the first command that exits cleanly without error
// output. A session that drops or stalls right after a suspend command is
// counted as success, because a sleeping machine looks exactly like that.
func (s *Impl) runLadder(ctx context.Context, sess ssh.Session, device models.Device, l ladder, outcome *models.SleepOutcome) error {
	var lastErr error

	for _, cmd := range l.commands {
		if ctx.Err() != nil {
			return &models.DispatchError{Device: device.Name, Err: ctx.Err()}
		}

		s.logger.Debug().Str("device", device.Name).Str("command", cmd).Msg("sending sleep command")

		res, execErr := sess.Exec(ctx, cmd)
		attempt := models.SleepAttempt{
			Command: cmd,
			Waited:  true,
			Output:  combinedOutput(res),
		}

		switch {
		case execErr == nil && res.ExitStatus == 0 && strings.TrimSpace(res.Stderr) == "":
			outcome.Attempts = append(outcome.Attempts, attempt)
			outcome.Success = true
			outcome.Confirmed = true
			outcome.Command = cmd
			return nil

		case errors.Is(execErr, ssh.ErrSessionDropped), errors.Is(execErr, ssh.ErrCommandTimeout):
			s.logger.Debug().Err(execErr).Str("command", cmd).Msg("session lost after sleep command (expected)")
			outcome.Attempts = append(outcome.Attempts, attempt)
			outcome.Success = true
			outcome.Command = cmd
			return nil

		case execErr != nil:
			if ctx.Err() != nil {
				return &models.DispatchError{Device: device.Name, Err: execErr}
			}
			attempt.Error = execErr

		default:
			attempt.Error = commandError(res)
		}

		s.logger.Warn().
			Err(attempt.Error).
			Str("device", device.Name).
			Str("command", cmd).
			Msg("sleep command failed, trying next")

		lastErr = attempt.Error
		outcome.Attempts = append(outcome.Attempts, attempt)
	}

	return &models.CommandExhaustionError{
		Family:   l.family,
		Attempts: l.commands,
		LastErr:  lastErr,
	}
}

// fireAll issues every command without waiting. Used when the OS could not
// be classified, so there is no reliable feedback to wait for.
func (s *Impl) fireAll(ctx context.Context, sess ssh.Session, device models.Device, l ladder, outcome *models.SleepOutcome) error {
	s.logger.Warn().Str("device", device.Name).Msg("unknown OS type, trying every sleep command")

	for _, cmd := range l.commands {
		if ctx.Err() != nil {
			return &models.DispatchError{Device: device.Name, Err: ctx.Err()}
		}

		attempt := models.SleepAttempt{Command: cmd}
		if err := sess.Start(cmd); err != nil {
			s.logger.Debug().Err(err).Str("command", cmd).Msg("sleep command not accepted")
			attempt.Error = err
		} else if outcome.Command == "" {
			outcome.Command = cmd
		}
		outcome.Attempts = append(outcome.Attempts, attempt)
	}

	outcome.Success = true
	outcome.Confirmed = false

	return nil
}

func combinedOutput(res models.ExecResult) string {
	return strings.TrimSpace(strings.TrimSpace(res.Stdout) + "\n" + strings.TrimSpace(res.Stderr))
}

func commandError(res models.ExecResult) error {
	stderr := strings.TrimSpace(res.Stderr)
	if stderr == "" {
		return fmt.Errorf("exit status %d", res.ExitStatus)
	}
	return fmt.Errorf("%s (exit status %d)", stderr, res.ExitStatus)
}
