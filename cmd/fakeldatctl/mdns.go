package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType is what `fakeldatctl discover` browses for.
const mdnsServiceType = "_fakeldat._tcp"

// startMDNS advertises the feed listener and returns an idempotent
// cleanup function. No-op when disabled.
func startMDNS(cfg *streamConfig, port int, l *slog.Logger) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = "fakeldat-" + host
	}
	// TXT records let a browser pick a host without connecting: which
	// device this daemon owns and what it speaks.
	meta := []string{
		"proto=fakeldat-feed",
		"backend=" + cfg.backend,
		"device=" + cfg.device,
		"version=" + version,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	l.Info("mdns_started", "service", mdnsServiceType, "instance", instance, "port", port)
	var once sync.Once
	return func() {
		once.Do(func() {
			svc.Shutdown()
			// Give the goodbye packets a moment to leave.
			time.Sleep(50 * time.Millisecond)
		})
	}, nil
}
