package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Action: wait()"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "secret", "ui-tars", time.Second)
	resp, err := p.Complete(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: "you control a computer"}}},
			{Role: RoleHuman, Parts: []Part{{Type: PartText, Text: "look"}, {Type: PartImage, Image: "aGVsbG8="}}},
			{Role: RoleAssistant, Parts: []Part{{Type: PartText, Text: "Action: wait()"}}},
		},
		MaxTokens: 1000,
		TopP:      0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Action: wait()", resp.Text)
	assert.Contains(t, resp.Raw, "choices")

	assert.Equal(t, "ui-tars", body["model"])
	assert.Equal(t, float64(1000), body["max_tokens"])
	assert.Equal(t, float64(0), body["temperature"])
	assert.Equal(t, 0.7, body["top_p"])
	assert.Equal(t, false, body["stream"])
	for _, key := range []string{"seed", "stop", "frequency_penalty", "presence_penalty"} {
		v, ok := body[key]
		assert.True(t, ok, "%s must be sent", key)
		assert.Nil(t, v, "%s must be null", key)
	}

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 3)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "you control a computer", messages[0].(map[string]interface{})["content"])

	human := messages[1].(map[string]interface{})
	assert.Equal(t, "user", human["role"])
	parts := human["content"].([]interface{})
	require.Len(t, parts, 2)
	img := parts[1].(map[string]interface{})
	assert.Equal(t, "image_url", img["type"])
	url := img["image_url"].(map[string]interface{})["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	assert.Equal(t, "assistant", messages[2].(map[string]interface{})["role"])
}

func TestOpenAIProvider_Failures(t *testing.T) {
	t.Run("non success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		_, err := NewOpenAIProvider(srv.URL, "", "m", time.Second).Complete(context.Background(), &Request{})
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
		assert.Contains(t, te.Body, "rate limited")
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewOpenAIProvider(url, "", "m", time.Second).Complete(context.Background(), &Request{})
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Zero(t, te.StatusCode)
	})

	t.Run("null content yields empty text", func(t *testing.T) {
		raw := `{"choices":[{"message":{"content":null}}]}`
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(raw))
		}))
		defer srv.Close()

		resp, err := NewOpenAIProvider(srv.URL, "", "m", time.Second).Complete(context.Background(), &Request{})
		require.NoError(t, err)
		assert.Empty(t, resp.Text)
		assert.Equal(t, raw, resp.Raw)
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer srv.Close()

		_, err := NewOpenAIProvider(srv.URL, "", "m", time.Second).Complete(context.Background(), &Request{})
		var te *TransportError
		assert.ErrorAs(t, err, &te)
	})
}
