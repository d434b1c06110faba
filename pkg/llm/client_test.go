package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatBody(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestParseContentTiers(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, out map[string]any)
	}{
		{
			name:    "direct json",
			content: `{"role_name": "Financial Analyst", "risk_level": "HIGH"}`,
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, "Financial Analyst", out["role_name"])
				assert.Equal(t, "HIGH", out["risk_level"])
			},
		},
		{
			name:    "json buried in prose",
			content: "Sure! Here is the role:\n```json\n{\"role_name\": \"DB Operator\"}\n```\nHope that helps.",
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, "DB Operator", out["role_name"])
			},
		},
		{
			name:    "nested object buried in prose",
			content: `The result is {"role_name": "Ward Clerk", "user_summary": {"total_users": 5}} as requested.`,
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, "Ward Clerk", out["role_name"])
				nested, ok := out["user_summary"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, float64(5), nested["total_users"])
			},
		},
		{
			name:    "prose only falls back",
			content: "I could not produce JSON but this cluster looks like finance analysts.",
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, "Role_analyze this cluster", out["role_name"])
				assert.Equal(t, "I could not produce JSON but this cluster looks like finance analysts.", out["description"])
				assert.Equal(t, "MEDIUM", out["risk_level"])
				assert.NotEmpty(t, out["rationale"])
			},
		},
		{
			name:    "empty content falls back",
			content: "",
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, "MEDIUM", out["risk_level"])
				assert.NotEmpty(t, out["role_name"])
			},
		},
		{
			name:    "unbalanced braces fall back",
			content: "{ this is not json at all",
			check: func(t *testing.T, out map[string]any) {
				assert.Equal(t, "MEDIUM", out["risk_level"])
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := parseContent("analyze this cluster please", tc.content)
			require.NotNil(t, out)
			tc.check(t, out)
		})
	}
}

func TestGenerateSendsChatRequest(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		io.WriteString(w, chatBody(`{"role_name": "Claims Processor", "risk_level": "LOW"}`))
	}))
	defer ts.Close()

	c := NewClient(Config{APIKey: "test-key", Endpoint: ts.URL, Model: "test-model"})
	out, err := c.Generate(context.Background(), "the prompt", true)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "the prompt", gotBody.Messages[1].Content)
	require.NotNil(t, gotBody.ResponseFormat)
	assert.Equal(t, "json_object", gotBody.ResponseFormat.Type)

	assert.Equal(t, "Claims Processor", out["role_name"])
	assert.Equal(t, "LOW", out["risk_level"])
}

func TestGenerateWithoutJSONMode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &req))
		assert.Nil(t, req.ResponseFormat)
		io.WriteString(w, chatBody("plain text answer"))
	}))
	defer ts.Close()

	c := NewClient(Config{APIKey: "test-key", Endpoint: ts.URL})
	out, err := c.Generate(context.Background(), "p", false)
	require.NoError(t, err)
	assert.Equal(t, "plain text answer", out["response"])
}

func TestGenerateTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer ts.Close()

	c := NewClient(Config{APIKey: "bad-key", Endpoint: ts.URL})
	_, err := c.Generate(context.Background(), "p", true)
	require.Error(t, err)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, http.StatusUnauthorized, transportErr.StatusCode)
	assert.Contains(t, transportErr.Message, "invalid api key")
}

func TestGenerateProseYieldsFallbackRecord(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, chatBody("no JSON here, just words"))
	}))
	defer ts.Close()

	c := NewClient(Config{APIKey: "test-key", Endpoint: ts.URL})
	out, err := c.Generate(context.Background(), "p", true)
	require.NoError(t, err)

	assert.NotEmpty(t, out["role_name"])
	assert.NotEmpty(t, out["description"])
	assert.Equal(t, "MEDIUM", out["risk_level"])
}

func TestMissingAPIKeyFailsOnFirstUseAndStaysFailed(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer ts.Close()

	// Construction never fails, even with absent credentials.
	c := NewClient(Config{Endpoint: ts.URL})

	_, err := c.Generate(context.Background(), "p", true)
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Contains(t, transportErr.Message, "API key not configured")

	// The init failure is cached; nothing ever hits the network.
	_, err2 := c.Generate(context.Background(), "p", true)
	assert.Equal(t, err, err2)
	assert.Equal(t, int32(0), calls.Load())
}

func TestTestConnection(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &req))
		require.Len(t, req.Messages, 1)
		assert.True(t, strings.Contains(req.Messages[0].Content, "Connected"))
		io.WriteString(w, chatBody("Connected"))
	}))
	defer ok.Close()

	c := NewClient(Config{APIKey: "test-key", Endpoint: ok.URL})
	assert.True(t, c.TestConnection(context.Background()))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	c2 := NewClient(Config{APIKey: "test-key", Endpoint: bad.URL})
	assert.False(t, c2.TestConnection(context.Background()))
}
