package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nthlayer/nthlayer/internal/config"
)

func TestParseLogLevelFlags(t *testing.T) {
	level, packages, err := parseLogLevelFlags([]string{"debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", level)
	assert.Empty(t, packages)

	level, packages, err = parseLogLevelFlags([]string{"default=info", "discovery=debug", "drift=warn"})
	require.NoError(t, err)
	assert.Equal(t, "info", level)
	assert.Equal(t, map[string]string{"discovery": "debug", "drift": "warn"}, packages)

	_, _, err = parseLogLevelFlags([]string{"verbose"})
	assert.Error(t, err)

	_, _, err = parseLogLevelFlags([]string{"discovery=loud"})
	assert.Error(t, err)
}

func TestConvertEnvKeyToPackageName(t *testing.T) {
	assert.Equal(t, "discovery", convertEnvKeyToPackageName("LOG_LEVEL_DISCOVERY"))
	assert.Equal(t, "config.watcher", convertEnvKeyToPackageName("LOG_LEVEL_CONFIG_WATCHER"))
}

func TestWebhookProvidersFromConfig(t *testing.T) {
	cfg := &config.File{
		Events: config.EventsConfig{
			Webhooks: map[string]config.ProviderConfig{
				"github":   {Secret: "s1"},
				"argocd":   {Secret: "s2"},
				"unsigned": {},
				"unknown":  {Secret: "s3"},
			},
		},
	}

	providers := webhookProvidersFromConfig(cfg)
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	assert.ElementsMatch(t, []string{"github", "argocd"}, names)
}

func TestBuildDiscoveryProviders(t *testing.T) {
	disabled := false
	cfg := &config.File{
		Discovery: config.DiscoveryConfig{
			Providers: map[string]config.ProviderConfig{
				"consul":    {URL: "http://consul:8500"},
				"backstage": {URL: "http://backstage:7007", Enabled: &disabled},
			},
		},
	}

	providers, err := buildDiscoveryProviders(cfg)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "consul", providers[0].Name())

	cfg.Discovery.Providers["mystery"] = config.ProviderConfig{URL: "http://x"}
	_, err = buildDiscoveryProviders(cfg)
	assert.Error(t, err)
}
