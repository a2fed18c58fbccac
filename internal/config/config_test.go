package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultContextWindow, cfg.Conversation.ContextWindow)
	assert.Equal(t, DefaultMessageDelay, cfg.Provider.MessageDelayMs)
	assert.Equal(t, DefaultSMSMaxLength, cfg.Provider.SMSMaxLength)
	assert.False(t, cfg.Provider.SplitMessages)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"
webhook_secret = "s3cret"

[provider]
base_url = "https://provider.example.com"
api_key = "key"
agent_number = "+1 555 000 1234"
split_messages = true
message_delay_ms = 250

[conversation]
context_window = 12

[[onboarding.fields]]
id = "name"
label = "Name"
required = true
description = "The user's full name."

[[onboarding.fields]]
id = "email"
label = "Email"
required = false
description = "An email address to reach the user."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Server.WebhookSecret)
	assert.True(t, cfg.Provider.SplitMessages)
	assert.Equal(t, 250, cfg.Provider.MessageDelayMs)
	assert.Equal(t, 12, cfg.Conversation.ContextWindow)
	require.Len(t, cfg.Onboarding.Fields, 2)
	assert.Equal(t, "name", cfg.Onboarding.Fields[0].ID)
	assert.True(t, cfg.Onboarding.Fields[0].Required)
	assert.False(t, cfg.Onboarding.Fields[1].Required)
}
