package cmd

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

func TestMaskString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "(not set)"},
		{"abc", "***"},
		{"12345678", "********"},
		{"sk-or-v1-abcdef", "sk-o*******cdef"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, maskString(tt.in))
		})
	}
}

func TestPromptConfig(t *testing.T) {
	input := strings.Join([]string{"or-key", "", "", "qwen/qwen3-coder", "proxy-secret"}, "\n") + "\n"
	var out bytes.Buffer

	cfg := promptConfig(bufio.NewReader(strings.NewReader(input)), &out)

	assert.Equal(t, "or-key", cfg.OpenRouter.APIKey)
	assert.Empty(t, cfg.Gemini.APIKey)
	assert.Equal(t, config.DefaultLocalBase, cfg.Local.APIBase)
	assert.Equal(t, "qwen/qwen3-coder", cfg.Router.Default)
	assert.Equal(t, "proxy-secret", cfg.APIKey)
	assert.Equal(t, config.DefaultPort, cfg.Port)
	require.NoError(t, cfg.Validate())
	assert.Contains(t, out.String(), "OpenRouter API Key")
}

func TestPrintConfig(t *testing.T) {
	cfg := config.Default()
	cfg.OpenRouter.APIKey = "sk-or-v1-abcdef"
	cfg.Router.Sonnet = "openai/gpt-4o"

	var out bytes.Buffer
	printConfig(&out, cfg)

	text := out.String()
	assert.Contains(t, text, "sk-o*******cdef")
	assert.NotContains(t, text, "sk-or-v1-abcdef")
	assert.Contains(t, text, "Sonnet")
	assert.Contains(t, text, "openai/gpt-4o")
	assert.Contains(t, text, "(requested model)")
}
