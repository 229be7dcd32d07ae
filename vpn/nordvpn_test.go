package vpn

import (
	"context"
	"errors"
	"testing"
	"time"

	"stayscraper/config"
)

func testConfig() *config.VPNConfig {
	return &config.VPNConfig{
		Enabled:          true,
		Countries:        []string{"US", "DE", "NL"},
		RotationInterval: 50,
		ConnectTimeout:   time.Second,
	}
}

func TestShouldRotate(t *testing.T) {
	r := NewRotator(testConfig())

	if r.ShouldRotate(0, 0) {
		t.Error("fresh identity should not rotate")
	}
	if r.ShouldRotate(49, 2) {
		t.Error("below both thresholds should not rotate")
	}
	if !r.ShouldRotate(50, 0) {
		t.Error("expected rotation at item threshold")
	}
	if !r.ShouldRotate(0, 3) {
		t.Error("expected rotation after three consecutive failures")
	}

	disabled := NewRotator(&config.VPNConfig{Enabled: false, RotationInterval: 50})
	if disabled.ShouldRotate(100, 10) {
		t.Error("disabled rotator must never rotate")
	}
}

func TestRotateExcludesCurrentCountry(t *testing.T) {
	r := NewRotator(testConfig())
	r.current.Country = "US"

	var connectedTo []string
	r.run = func(ctx context.Context, args ...string) (string, error) {
		if args[0] == "connect" {
			connectedTo = append(connectedTo, args[1])
		}
		return "Connected", nil
	}
	r.lookupIP = func(ctx context.Context) (string, error) {
		return "10.0.0.2", nil
	}

	for i := 0; i < 20; i++ {
		r.current.Country = "US"
		ev := r.Rotate(context.Background(), "test")
		if !ev.Success {
			t.Fatalf("rotation failed: %s", ev.Error)
		}
	}
	for _, c := range connectedTo {
		if c == "US" {
			t.Fatal("rotation picked the country already in use")
		}
	}
}

func TestRotateSurvivesIPLookupFailure(t *testing.T) {
	r := NewRotator(testConfig())
	r.run = func(ctx context.Context, args ...string) (string, error) {
		return "Connected", nil
	}
	r.lookupIP = func(ctx context.Context) (string, error) {
		return "", errors.New("all IP services down")
	}

	ev := r.Rotate(context.Background(), "test")
	if !ev.Success {
		t.Fatalf("rotation should succeed when only the IP lookup fails: %s", ev.Error)
	}
	if ev.NewIP != "" {
		t.Errorf("expected empty NewIP, got %q", ev.NewIP)
	}
}

func TestRotateConnectFailure(t *testing.T) {
	r := NewRotator(testConfig())
	r.run = func(ctx context.Context, args ...string) (string, error) {
		return "", errors.New("no internet connection")
	}
	r.lookupIP = func(ctx context.Context) (string, error) {
		return "10.0.0.2", nil
	}

	ev := r.Rotate(context.Background(), "test")
	if ev.Success {
		t.Fatal("connect failure must not report success")
	}
	if ev.Error == "" {
		t.Fatal("expected error detail on the event")
	}
}

func TestCurrentCachesLookups(t *testing.T) {
	r := NewRotator(testConfig())
	calls := 0
	r.lookupIP = func(ctx context.Context) (string, error) {
		calls++
		return "10.0.0.5", nil
	}

	first := r.Current(context.Background())
	second := r.Current(context.Background())

	if first.IP != "10.0.0.5" || second.IP != "10.0.0.5" {
		t.Fatalf("unexpected IPs %q %q", first.IP, second.IP)
	}
	if calls != 1 {
		t.Errorf("expected one lookup within the cache window, got %d", calls)
	}
}

func TestCurrentKeepsStaleIPWhenLookupFails(t *testing.T) {
	r := NewRotator(testConfig())
	r.current.IP = "10.0.0.9"
	r.current.CheckedAt = time.Now().Add(-time.Minute)
	r.lookupIP = func(ctx context.Context) (string, error) {
		return "", errors.New("unreachable")
	}

	id := r.Current(context.Background())
	if id.IP != "10.0.0.9" {
		t.Errorf("expected stale IP to survive a failed lookup, got %q", id.IP)
	}
}
