package fingerprint

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockExecutor struct {
	commands []string
	outputs  map[string]string
	errs     map[string]error
}

func (m *mockExecutor) Exec(ctx context.Context, command string) (models.ExecResult, error) {
	m.commands = append(m.commands, command)
	if err := m.errs[command]; err != nil {
		return models.ExecResult{}, err
	}
	return models.ExecResult{Stdout: m.outputs[command]}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		uname         string
		systeminfo    string
		expected      models.OSFamily
		wantRoundTrip int
	}{
		{"darwin", "Darwin\n", "", models.OSMacOS, 1},
		{"linux", "Linux\n", "", models.OSLinux, 1},
		{"freebsd", "FreeBSD", "", models.OSLinux, 1},
		{"windows", "", "OS Name:                   Microsoft Windows 11 Pro\r\n", models.OSWindows, 2},
		{"windows with sentinel from uname", "Unknown\r\n", "OS Name: Microsoft Windows 10 Home", models.OSWindows, 2},
		{"unknown sentinel", "Unknown", "Unknown", models.OSUnknown, 2},
		{"unrecognised unix", "SunOS", "Unknown", models.OSUnknown, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{outputs: map[string]string{
				UnixProbeCommand:    tt.uname,
				WindowsProbeCommand: tt.systeminfo,
			}}

			family := New(testLogger()).Classify(context.Background(), exec)

			assert.Equal(t, tt.expected, family)
			assert.Len(t, exec.commands, tt.wantRoundTrip)
		})
	}
}

func TestClassify_ExecErrorsYieldUnknown(t *testing.T) {
	exec := &mockExecutor{errs: map[string]error{
		UnixProbeCommand:    errors.New("session dropped"),
		WindowsProbeCommand: errors.New("session dropped"),
	}}

	family := New(testLogger()).Classify(context.Background(), exec)

	assert.Equal(t, models.OSUnknown, family)
}

func TestClassify_UnameFailsWindowsAnswers(t *testing.T) {
	exec := &mockExecutor{
		errs:    map[string]error{UnixProbeCommand: errors.New("exec failed")},
		outputs: map[string]string{WindowsProbeCommand: "OS Name: Microsoft Windows Server 2022"},
	}

	family := New(testLogger()).Classify(context.Background(), exec)

	assert.Equal(t, models.OSWindows, family)
}
