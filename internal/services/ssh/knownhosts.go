package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func (s *Impl) hostKeyCallback() ssh.HostKeyCallback {
	if s.settings.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey() //nolint:gosec // personal LAN tool, recording disabled
	}
	return s.trustOnFirstUse(s.settings.KnownHostsPath)
}

// trustOnFirstUse accepts and records keys of hosts not yet in path, and
// rejects hosts whose key changed.
func (s *Impl) trustOnFirstUse(path string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		s.knownHostsMu.Lock()
		defer s.knownHostsMu.Unlock()

		if err := ensureFile(path); err != nil {
			return fmt.Errorf("prepare known hosts: %w", err)
		}

		check, err := knownhosts.New(path)
		if err != nil {
			return fmt.Errorf("load known hosts: %w", err)
		}

		err = check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			s.logger.Info().
				Str("host", hostname).
				Str("fingerprint", ssh.FingerprintSHA256(key)).
				Msg("trusting new host key")
			return appendKnownHost(path, hostname, key)
		}
		if err != nil {
			return fmt.Errorf("host key verification failed for %s: %w", hostname, err)
		}

		return nil
	}
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600) //nolint:gosec // path comes from config
	if err != nil {
		return err
	}
	return f.Close()
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path comes from config
	if err != nil {
		return fmt.Errorf("open known hosts: %w", err)
	}
	defer func() { _ = f.Close() }()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("write known hosts: %w", err)
	}

	return nil
}
