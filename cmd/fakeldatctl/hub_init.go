package main

import (
	"log/slog"

	"github.com/fakeldat/go-fakeldat/internal/hub"
)

// initHub builds the report fanout. The config is validated before this
// runs, so the policy string is one of the two known names.
func initHub(cfg *streamConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	if cfg.hubPolicy == "kick" {
		h.Policy = hub.PolicyKick
	}
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", cfg.hubPolicy, "buffer", h.OutBufSize)
	return h
}
