package main

import (
	"testing"
	"time"
)

func validStreamConfig() *streamConfig {
	return &streamConfig{
		device:       "/dev/null",
		baud:         115200,
		backend:      "serial",
		listenAddr:   ":20304",
		pollInterval: 50 * time.Millisecond,
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    8,
		hubPolicy:    "drop",
		maxClients:   0,
		clientReadTO: time.Second,
		bannerTO:     time.Second,
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validStreamConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*streamConfig)
	}{
		{"badFormat", func(c *streamConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *streamConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *streamConfig) { c.backend = "x" }},
		{"badPolicy", func(c *streamConfig) { c.hubPolicy = "x" }},
		{"badHubBuf", func(c *streamConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *streamConfig) { c.baud = 0 }},
		{"badPollInterval", func(c *streamConfig) { c.pollInterval = 0 }},
		{"badClientReadTO", func(c *streamConfig) { c.clientReadTO = 0 }},
		{"badBannerTO", func(c *streamConfig) { c.bannerTO = 0 }},
		{"badMaxClients", func(c *streamConfig) { c.maxClients = -1 }},
	}
	for _, tc := range tests {
		base := validStreamConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestOneShotValidate(t *testing.T) {
	ok := &oneShotConfig{device: "/dev/null", baud: 115200, backend: "sim", wait: time.Second, logFormat: "text", logLevel: "warn"}
	if err := ok.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	tests := []struct {
		name string
		mod  func(*oneShotConfig)
	}{
		{"badBackend", func(c *oneShotConfig) { c.backend = "usb" }},
		{"badBaud", func(c *oneShotConfig) { c.baud = -1 }},
		{"badWait", func(c *oneShotConfig) { c.wait = 0 }},
		{"badFormat", func(c *oneShotConfig) { c.logFormat = "yaml" }},
		{"badLevel", func(c *oneShotConfig) { c.logLevel = "loud" }},
	}
	for _, tc := range tests {
		base := &oneShotConfig{device: "/dev/null", baud: 115200, backend: "sim", wait: time.Second, logFormat: "text", logLevel: "warn"}
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
