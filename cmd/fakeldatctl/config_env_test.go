package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := validStreamConfig()
	t.Setenv("FAKELDAT_BAUD", "230400")
	t.Setenv("FAKELDAT_MDNS_ENABLE", "true")
	t.Setenv("FAKELDAT_POLL_INTERVAL", "100ms")
	t.Setenv("FAKELDAT_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("FAKELDAT_CSV_DIR", "/tmp/captures")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.pollInterval != 100*time.Millisecond {
		t.Fatalf("expected pollInterval 100ms got %v", base.pollInterval)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.csvDir != "/tmp/captures" {
		t.Fatalf("expected csvDir override, got %q", base.csvDir)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &streamConfig{baud: 115200}
	t.Setenv("FAKELDAT_BAUD", "230400")
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &streamConfig{hubBuffer: 512}
	t.Setenv("FAKELDAT_HUB_BUFFER", "notint")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_BlankListenDisablesFeed(t *testing.T) {
	base := validStreamConfig()
	t.Setenv("FAKELDAT_LISTEN", "")
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.listenAddr != "" {
		t.Fatalf("expected blank listen to apply, got %q", base.listenAddr)
	}
}

func TestApplyEnvOverrides_RecordsAppliedNames(t *testing.T) {
	base := validStreamConfig()
	t.Setenv("FAKELDAT_HUB_POLICY", "kick")
	set := map[string]struct{}{}
	if err := applyEnvOverrides(base, set); err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, ok := set["hub-policy"]; !ok {
		t.Fatalf("expected applied env override to be recorded")
	}
}
