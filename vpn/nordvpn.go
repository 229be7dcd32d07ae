package vpn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"stayscraper/config"
	"stayscraper/logging"
	"stayscraper/models"
)

var (
	ErrVPNNotConnected  = errors.New("VPN not connected")
	ErrRotationTimeout  = errors.New("VPN rotation timed out")
	ErrNoCountries      = errors.New("no VPN countries configured")
	ErrRotationDisabled = errors.New("VPN rotation disabled")
)

const ipCacheWindow = 30 * time.Second

var ipServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// Rotator drives the NordVPN CLI and tracks the current exit identity.
// The command runner and IP lookup are injectable so the rotation logic
// is testable without a VPN daemon.
type Rotator struct {
	cfg    *config.VPNConfig
	logger *log.Logger

	run      func(ctx context.Context, args ...string) (string, error)
	lookupIP func(ctx context.Context) (string, error)

	mu       sync.Mutex
	current  models.NetworkIdentity
	rotating bool
}

func NewRotator(cfg *config.VPNConfig) *Rotator {
	r := &Rotator{cfg: cfg, logger: logging.Component("vpn")}
	r.run = runNordVPN
	r.lookupIP = lookupPublicIP
	return r
}

// Current returns the active identity, refreshing the IP if the cached
// value is older than the cache window. When no IP service is
// reachable the stale identity is returned as-is; an unreachable
// lookup endpoint must not stall scraping.
func (r *Rotator) Current(ctx context.Context) models.NetworkIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current.Fresh(ipCacheWindow) {
		return r.current
	}

	ip, err := r.lookupIP(ctx)
	if err != nil {
		r.logger.Printf("IP lookup failed, keeping %s: %v", r.current.IP, err)
		return r.current
	}

	r.current.IP = ip
	r.current.CheckedAt = time.Now()
	return r.current
}

// ShouldRotate applies the rotation policy: rotate after enough items
// on one identity, or after a run of consecutive failures that
// suggests the identity is burned.
func (r *Rotator) ShouldRotate(itemsSince, consecutiveFailures int) bool {
	if !r.cfg.Enabled {
		return false
	}
	if r.cfg.RotationInterval > 0 && itemsSince >= r.cfg.RotationInterval {
		return true
	}
	return consecutiveFailures >= 3
}

// Rotate switches to a random configured country, excluding the one
// currently in use so consecutive rotations always change exit
// location. Returns the event describing what happened, whether or not
// the rotation succeeded.
func (r *Rotator) Rotate(ctx context.Context, reason string) models.RotationEvent {
	ev := models.RotationEvent{Reason: reason, RotatedAt: time.Now()}

	if !r.cfg.Enabled {
		ev.Error = ErrRotationDisabled.Error()
		return ev
	}

	r.mu.Lock()
	if r.rotating {
		r.mu.Unlock()
		ev.Error = "rotation already in progress"
		return ev
	}
	r.rotating = true
	old := r.current
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.rotating = false
		r.mu.Unlock()
	}()

	ev.OldIP = old.IP

	country, err := r.pickCountry(old.Country)
	if err != nil {
		ev.Error = err.Error()
		return ev
	}
	ev.Country = country

	cctx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	defer cancel()

	r.logger.Printf("rotating to %s (%s)", country, reason)
	if _, err := r.run(cctx, "connect", country); err != nil {
		if cctx.Err() != nil {
			ev.Error = ErrRotationTimeout.Error()
		} else {
			ev.Error = fmt.Sprintf("nordvpn connect: %v", err)
		}
		return ev
	}

	// Give the tunnel a moment before exposing the new IP.
	ip, err := r.lookupIP(ctx)
	if err != nil {
		// Lookup services unreachable does not mean the tunnel failed.
		r.logger.Printf("rotated to %s, IP lookup unavailable: %v", country, err)
		ip = ""
	}

	r.mu.Lock()
	r.current = models.NetworkIdentity{IP: ip, Country: country, CheckedAt: time.Now()}
	r.mu.Unlock()

	ev.NewIP = ip
	ev.Success = true
	return ev
}

func (r *Rotator) pickCountry(exclude string) (string, error) {
	if len(r.cfg.Countries) == 0 {
		return "", ErrNoCountries
	}

	candidates := make([]string, 0, len(r.cfg.Countries))
	for _, c := range r.cfg.Countries {
		if !strings.EqualFold(c, exclude) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		// Single-country config, nothing to exclude against.
		candidates = r.cfg.Countries
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (r *Rotator) IsConnected(ctx context.Context) bool {
	out, err := r.run(ctx, "status")
	if err != nil {
		return false
	}
	status := strings.ToLower(out)
	return strings.Contains(status, "connected") && !strings.Contains(status, "disconnected")
}

func (r *Rotator) Disconnect(ctx context.Context) error {
	_, err := r.run(ctx, "disconnect")
	return err
}

func runNordVPN(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "nordvpn", args...).CombinedOutput()
	return string(out), err
}

func lookupPublicIP(ctx context.Context) (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	var lastErr error
	for _, svc := range ipServices {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("%s: status %d", svc, resp.StatusCode)
			continue
		}
		ip := strings.TrimSpace(string(body))
		if ip != "" {
			return ip, nil
		}
	}
	if lastErr == nil {
		lastErr = ErrVPNNotConnected
	}
	return "", fmt.Errorf("all IP services failed: %w", lastErr)
}
