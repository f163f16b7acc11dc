package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Providers(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "openai", cfg: Config{Provider: "openai", APIKey: "k"}},
		{name: "anthropic mixed case", cfg: Config{Provider: "Anthropic", APIKey: "k"}},
		{name: "openai without key", cfg: Config{Provider: "openai"}, wantErr: true},
		{name: "anthropic without key", cfg: Config{Provider: "anthropic"}, wantErr: true},
		{name: "unknown provider", cfg: Config{Provider: "mystery", APIKey: "k"}, wantErr: true},
		{name: "claude cli missing", cfg: Config{Provider: "claudecode", ClaudeCodePath: "/nonexistent/claude"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"outcomes\":"},{"type":"text","text":"[]}"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "anthropic", APIKey: "test-key", BaseURL: server.URL + "/", Model: "m1"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), CompletionRequest{System: "sys", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, `{"outcomes":[]}`, out)
	assert.Equal(t, "m1", got["model"])
	assert.Equal(t, "sys", got["system"])
	assert.InDelta(t, 4096, got["max_tokens"], 0)
}

func TestOpenAIClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
		assert.InDelta(t, 100, body["max_tokens"], 0)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "openai", APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), CompletionRequest{Prompt: "hi", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestClients_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		status    int
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, retryable: true},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", retryable: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"bad"}`, retryable: false},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "nope", retryable: false},
		{name: "empty choices", status: http.StatusOK, body: `{"choices":[],"content":[]}`, retryable: false},
		{name: "garbage body", status: http.StatusOK, body: "not json", retryable: false},
	}

	for _, provider := range []string{"openai", "anthropic"} {
		for _, tt := range tests {
			t.Run(provider+"/"+tt.name, func(t *testing.T) {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				}))
				defer server.Close()

				client, err := NewClient(Config{Provider: provider, APIKey: "k", BaseURL: server.URL})
				require.NoError(t, err)

				_, err = client.Complete(context.Background(), CompletionRequest{Prompt: "x"})
				require.Error(t, err)
				assert.Equal(t, tt.retryable, common.IsRetryable(err))
			})
		}
	}
}

func TestParseClaudeCodeOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    string
		wantErr bool
	}{
		{name: "json result", out: `{"type":"result","result":"{\"outcomes\":[]}","is_error":false}`, want: `{"outcomes":[]}`},
		{name: "plain text", out: "  {\"outcomes\":[]}\n", want: `{"outcomes":[]}`},
		{name: "plain json with record", out: `{"outcomes":[{"record_id":"r1","label":"exempt"}]}`, want: `{"outcomes":[{"record_id":"r1","label":"exempt"}]}`},
		{name: "plain non-json", out: "exempt\n", want: "exempt"},
		{name: "error flag", out: `{"type":"result","result":"quota","is_error":true}`, wantErr: true},
		{name: "empty result", out: `{"type":"result","result":""}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClaudeCodeOutput([]byte(tt.out))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
