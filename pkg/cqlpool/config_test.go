package cqlpool

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Pool.CoreConnectionsPerLocalHost != 2 {
		t.Errorf("CoreConnectionsPerLocalHost = %d, want 2", cfg.Pool.CoreConnectionsPerLocalHost)
	}
	if cfg.Pool.CoreConnectionsPerRemoteHost != 1 {
		t.Errorf("CoreConnectionsPerRemoteHost = %d, want 1", cfg.Pool.CoreConnectionsPerRemoteHost)
	}
	if cfg.Pool.MaxConnectionsPerLocalHost != 8 {
		t.Errorf("MaxConnectionsPerLocalHost = %d, want 8", cfg.Pool.MaxConnectionsPerLocalHost)
	}
	if cfg.Pool.BorrowTimeout != 5000*time.Millisecond {
		t.Errorf("BorrowTimeout = %v, want 5s", cfg.Pool.BorrowTimeout)
	}
	if cfg.Reconnect.BaseDelay != time.Second {
		t.Errorf("Reconnect.BaseDelay = %v, want 1s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.MaxDelay != 60*time.Second {
		t.Errorf("Reconnect.MaxDelay = %v, want 60s", cfg.Reconnect.MaxDelay)
	}
	if cfg.Reconnect.Multiplier != 2.0 {
		t.Errorf("Reconnect.Multiplier = %v, want 2.0", cfg.Reconnect.Multiplier)
	}
}

func TestPoolSizingConfig_PerHostDistance(t *testing.T) {
	cfg := PoolSizingConfig{
		CoreConnectionsPerLocalHost:  2,
		CoreConnectionsPerRemoteHost: 1,
		MaxConnectionsPerLocalHost:   8,
		MaxConnectionsPerRemoteHost:  2,
	}

	if core, max := cfg.PerHostDistance(HostDistanceLocal); core != 2 || max != 8 {
		t.Errorf("PerHostDistance(local) = (%d, %d), want (2, 8)", core, max)
	}
	if core, max := cfg.PerHostDistance(HostDistanceRemote); core != 1 || max != 2 {
		t.Errorf("PerHostDistance(remote) = (%d, %d), want (1, 2)", core, max)
	}
}
