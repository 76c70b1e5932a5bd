package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatservice/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat-service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
models:
  - name: gpt-3.5-turbo
    backend: remote_api
    max_total_tokens: 4096
    max_tokens_per_request: 2048
    endpoint: https://api.openai.com/v1/chat/completions
`)
	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 2, config.Chat.ChunkSize)
	assert.Equal(t, 4, config.Worker.Workers)
	// 默认模型落到第一个声明
	assert.Equal(t, "gpt-3.5-turbo", config.Chat.DefaultModel)
}

func TestLoadRejectsEmptyModelList(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9999"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBuildRegistry(t *testing.T) {
	registry, err := BuildRegistry([]ModelConfig{
		{Name: "gpt-4", Backend: "remote_api", MaxTotalTokens: 8192, MaxTokensPerRequest: 4096},
		{Name: "wizard-vicuna-13b", Backend: "local", MaxTotalTokens: 2048, MaxTokensPerRequest: 1024,
			ModelPath: "/models/wizard-vicuna-13b.gguf"},
	})
	require.NoError(t, err)

	remote, err := registry.FindByName("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, domain.BackendRemoteAPI, remote.Backend)
	assert.Equal(t, 8, remote.TokenMargin)
	require.NotNil(t, remote.Tokenizer)

	local, err := registry.FindByName("wizard-vicuna-13b")
	require.NoError(t, err)
	assert.Equal(t, domain.BackendLocal, local.Backend)
	assert.Equal(t, "/models/wizard-vicuna-13b.gguf", local.ModelPath)
}

func TestBuildRegistryRejectsUnknownBackend(t *testing.T) {
	_, err := BuildRegistry([]ModelConfig{
		{Name: "x", Backend: "quantum", MaxTotalTokens: 10, MaxTokensPerRequest: 5},
	})
	assert.Error(t, err)
}
