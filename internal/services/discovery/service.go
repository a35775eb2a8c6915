// Package discovery finds devices on the local network that could be registered.
package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fgeck/wakesleep/internal/models"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MDNSServices are browsed to put names on hosts that reverse DNS cannot.
var MDNSServices = []string{"_workstation._tcp", "_ssh._tcp", "_smb._tcp"}

const (
	mdnsDomain    = "local."
	lookupWorkers = 8
)

var (
	unixARPLine    = regexp.MustCompile(`\(([0-9.]+)\) at ([0-9a-fA-F:]+)`)
	windowsARPLine = regexp.MustCompile(`^\s*([0-9.]+)\s+([0-9a-fA-F]{2}(?:-[0-9a-fA-F]{2}){5})\s+\w+`)
	pointerRecord  = regexp.MustCompile(`domain name pointer ([\w.-]+)`)
)

// Service defines the interface for network discovery.
type Service interface {
	Scan(ctx context.Context) ([]models.Candidate, error)
	LookupHostname(ctx context.Context, ip string) string
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its standard output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.Output()
}

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// browseMDNS uses a fresh resolver per browse; a resolver shuts down with its context.
func browseMDNS(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Impl implements the discovery Service interface.
type Impl struct {
	executor CommandExecutor
	browse   browseFunc
	settings models.DiscoverySettings
	logger   zerolog.Logger
}

// New creates a new discovery service.
func New(logger zerolog.Logger, settings models.DiscoverySettings) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		browse:   browseMDNS,
		settings: settings,
		logger:   logger,
	}
}

// NewWithExecutor creates a new discovery service with a custom executor and
// mDNS browser (for testing).
func NewWithExecutor(logger zerolog.Logger, settings models.DiscoverySettings, executor CommandExecutor, browse browseFunc) *Impl {
	return &Impl{
		executor: executor,
		browse:   browse,
		settings: settings,
		logger:   logger,
	}
}

// Scan reads the local ARP table and resolves a hostname for every entry.
func (s *Impl) Scan(ctx context.Context) ([]models.Candidate, error) {
	s.logger.Info().Msg("scanning ARP table")

	out, err := s.executor.Execute(ctx, "arp", "-a")
	if err != nil {
		return nil, fmt.Errorf("failed to read ARP table: %w", err)
	}

	candidates := ParseARP(string(out))
	s.logger.Debug().Int("entries", len(candidates)).Msg("parsed ARP table")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupWorkers)
	for i := range candidates {
		g.Go(func() error {
			candidates[i].Hostname = s.LookupHostname(gctx, candidates[i].IPAddress)
			return nil
		})
	}
	_ = g.Wait()

	if s.settings.MDNS && s.browse != nil {
		names := s.mdnsHostnames(ctx)
		for i := range candidates {
			if candidates[i].Hostname == "" {
				candidates[i].Hostname = names[candidates[i].IPAddress]
			}
		}
	}

	s.logger.Info().Int("devices", len(candidates)).Msg("scan finished")
	return candidates, nil
}

// LookupHostname asks `host` for the PTR record of ip. Returns "" when none.
func (s *Impl) LookupHostname(ctx context.Context, ip string) string {
	out, err := s.executor.Execute(ctx, "host", ip)
	if err != nil {
		s.logger.Debug().Err(err).Str("ip", ip).Msg("reverse lookup failed")
		return ""
	}

	match := pointerRecord.FindStringSubmatch(string(out))
	if match == nil {
		return ""
	}
	return strings.TrimSuffix(match[1], ".")
}

func (s *Impl) mdnsHostnames(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, s.settings.MDNSTimeout)
	defer cancel()

	var mu sync.Mutex
	names := make(map[string]string)

	var g errgroup.Group
	for _, service := range MDNSServices {
		g.Go(func() error {
			entries := make(chan *zeroconf.ServiceEntry, 32)
			done := make(chan struct{})

			go func() {
				defer close(done)
				for {
					select {
					case <-ctx.Done():
						return
					case entry, ok := <-entries:
						if !ok {
							return
						}
						if entry == nil {
							continue
						}
						host := strings.TrimSuffix(entry.HostName, ".")
						if host == "" {
							continue
						}
						mu.Lock()
						for _, ip := range entry.AddrIPv4 {
							if _, seen := names[ip.String()]; !seen {
								names[ip.String()] = host
							}
						}
						mu.Unlock()
					}
				}
			}()

			if err := s.browse(ctx, service, mdnsDomain, entries); err != nil {
				s.logger.Debug().Err(err).Str("service", service).Msg("mDNS browse failed")
			}
			<-done
			return nil
		})
	}
	_ = g.Wait()

	return names
}

// ParseARP extracts complete entries from `arp -a` output in either the
// BSD/Linux layout ("? (10.0.0.2) at 0:11:22:33:44:55 on en0") or the
// Windows layout ("  10.0.0.2   00-11-22-33-44-55   dynamic"). Broadcast and
// multicast addresses are dropped and the result is sorted by IP.
func ParseARP(output string) []models.Candidate {
	seen := make(map[string]bool)
	var candidates []models.Candidate

	for _, line := range strings.Split(output, "\n") {
		var ip, mac string
		if m := unixARPLine.FindStringSubmatch(line); m != nil {
			ip, mac = m[1], m[2]
		} else if m := windowsARPLine.FindStringSubmatch(line); m != nil {
			ip, mac = m[1], m[2]
		} else {
			continue
		}

		ip, err := models.ParseIPv4(ip)
		if err != nil {
			continue
		}
		mac, err = models.NormalizeMAC(padOctets(mac))
		if err != nil || !unicast(mac) || seen[ip] {
			continue
		}

		seen[ip] = true
		candidates = append(candidates, models.Candidate{IPAddress: ip, MACAddress: mac})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, _ := netip.ParseAddr(candidates[i].IPAddress)
		b, _ := netip.ParseAddr(candidates[j].IPAddress)
		return a.Less(b)
	})

	return candidates
}

// padOctets turns the BSD short form 0:1b:2:... into 00:1b:02:...
func padOctets(mac string) string {
	sep := ":"
	if strings.Contains(mac, "-") {
		sep = "-"
	}
	parts := strings.Split(mac, sep)
	if len(parts) != 6 {
		return mac
	}
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, sep)
}

// unicast rejects the broadcast address and group addresses (low bit of the
// first octet set). mac must be in canonical form.
func unicast(mac string) bool {
	if mac == "ff:ff:ff:ff:ff:ff" {
		return false
	}
	first, err := strconv.ParseUint(mac[:2], 16, 8)
	if err != nil {
		return false
	}
	return first&1 == 0
}
