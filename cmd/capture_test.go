package cmd

import (
	"context"
	"testing"

	channelpkg "packrat/pkg/channel"
	"packrat/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	if _, err := enabledAdapters(cfg, nil); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}
}

func TestEnabledAdaptersBuildsTelegramAdapter(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123456:testtoken"

	adapters, err := enabledAdapters(cfg, nil)
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Name() != "telegram" {
		t.Fatalf("adapters = %v", adapters)
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "discord"}}
	if got := enabledChannelNames(adapters); got != "telegram,discord" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,discord")
	}
}
