// Package fingerprint classifies the operating system behind an SSH session.
package fingerprint

import (
	"context"
	"strings"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/rs/zerolog"
)

// Detection commands. Each falls back to a sentinel when it is unavailable.
const (
	UnixProbeCommand    = `uname -s 2>/dev/null || echo "Unknown"`
	WindowsProbeCommand = `systeminfo | findstr /B /C:"OS Name" 2>NUL || echo "Unknown"`
)

// Executor runs a command over an open session.
type Executor interface {
	Exec(ctx context.Context, command string) (models.ExecResult, error)
}

// Service defines the interface for OS classification.
type Service interface {
	Classify(ctx context.Context, exec Executor) models.OSFamily
}

// Impl implements the fingerprint Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new fingerprint service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Classify never fails: anything it cannot place is OSUnknown. Unix-like
// systems take one round trip, everything else two.
func (s *Impl) Classify(ctx context.Context, exec Executor) models.OSFamily {
	uname := s.run(ctx, exec, UnixProbeCommand)
	switch uname {
	case "Darwin":
		return s.detected(models.OSMacOS, uname)
	case "Linux", "FreeBSD":
		return s.detected(models.OSLinux, uname)
	}

	osName := s.run(ctx, exec, WindowsProbeCommand)
	if strings.Contains(osName, "Windows") {
		return s.detected(models.OSWindows, osName)
	}

	return s.detected(models.OSUnknown, osName)
}

func (s *Impl) run(ctx context.Context, exec Executor, command string) string {
	result, err := exec.Exec(ctx, command)
	if err != nil {
		s.logger.Debug().Err(err).Str("command", command).Msg("detection command failed")
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}

func (s *Impl) detected(family models.OSFamily, evidence string) models.OSFamily {
	s.logger.Info().Str("os", family.String()).Str("evidence", evidence).Msg("detected OS type")
	return family
}
