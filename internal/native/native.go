// Package native wraps the host OS surface the rest of the system and
// plugins are allowed to touch: process execution and browser opening.
package native

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// ExecuteService runs external commands with captured output.
type ExecuteService struct {
	logger zerolog.Logger
	// env entries appended to the child process environment.
	env []string
}

// NewExecuteService creates a command runner.
func NewExecuteService(logger zerolog.Logger) *ExecuteService {
	return &ExecuteService{logger: logger.With().Str("component", "execute").Logger()}
}

// SetEnv appends environment entries ("KEY=value") for subsequent commands.
func (s *ExecuteService) SetEnv(entries ...string) {
	s.env = append(s.env, entries...)
}

// Run executes a command and returns its captured stdout and stderr. The
// context bounds the process lifetime.
func (s *ExecuteService) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), s.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Debug().Str("command", name).Strs("args", args).Msg("running command")
	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("running %s: %w", name, err)
	}
	return stdout.String(), stderr.String(), nil
}

// Service exposes the remaining host operations.
type Service struct {
	logger  zerolog.Logger
	openURL func(url string) error
}

// NewService creates the host service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger:  logger.With().Str("component", "native").Logger(),
		openURL: browser.OpenURL,
	}
}

// OpenExternalURL opens the URL in the system browser.
func (s *Service) OpenExternalURL(url string) error {
	s.logger.Debug().Str("url", url).Msg("opening browser")
	if err := s.openURL(url); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

// OS returns the host operating system identifier.
func (s *Service) OS() string {
	return runtime.GOOS
}

// HomeDir returns the current user's home directory.
func (s *Service) HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return home, nil
}
