package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

func openAIServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{APIKey: "test-key", Model: "gpt-4o-mini", BaseURL: srv.URL})
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestOpenAIGenerateText(t *testing.T) {
	client := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request %+v", req)
		}

		writeJSON(w, http.StatusOK, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"# Arancine\n\nBozza."},"finish_reason":"stop"}]}`)
	})

	text, err := client.GenerateText(context.Background(), testTopic("Arancine"), "prompt")
	if err != nil {
		t.Fatalf("GenerateText returned error: %v", err)
	}
	if text != "# Arancine\n\nBozza." {
		t.Errorf("unexpected text %q", text)
	}
}

func TestOpenAIContentFilter(t *testing.T) {
	client := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`)
	})

	_, err := client.GenerateText(context.Background(), testTopic("x"), "prompt")
	if models.KindOf(err) != models.ErrorKindSafety {
		t.Errorf("expected safety, got %v", err)
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   models.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`, models.ErrorKindRateLimited},
		{"quota", http.StatusTooManyRequests, `{"error":{"message":"no credit","type":"insufficient_quota","code":"insufficient_quota"}}`, models.ErrorKindUnauthorized},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, models.ErrorKindUnauthorized},
		{"policy", http.StatusBadRequest, `{"error":{"message":"rejected","type":"invalid_request_error","code":"content_policy_violation"}}`, models.ErrorKindSafety},
		{"server", http.StatusInternalServerError, `{"error":{"message":"oops","type":"server_error"}}`, models.ErrorKindNetwork},
		{"unparseable", http.StatusBadGateway, `<html>bad gateway</html>`, models.ErrorKindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := client.GenerateText(context.Background(), testTopic("x"), "prompt")
			if got := models.KindOf(err); got != tt.kind {
				t.Errorf("kind = %s, want %s (err=%v)", got, tt.kind, err)
			}
		})
	}
}

func TestOpenAIGenerateImage(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngHeader)
	client := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["response_format"] != "b64_json" || req["model"] != "dall-e-3" {
			t.Errorf("unexpected image request %v", req)
		}
		writeJSON(w, http.StatusOK, `{"created":1,"data":[{"b64_json":"`+encoded+`"}]}`)
	})

	img, err := client.GenerateImage(context.Background(), "cannoli")
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if string(img.Data) != string(pngHeader) || img.MIME != "image/png" {
		t.Errorf("unexpected image %q %s", img.Data, img.MIME)
	}
}

func TestOpenAIGenerateImageEmpty(t *testing.T) {
	client := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"created":1,"data":[]}`)
	})

	_, err := client.GenerateImage(context.Background(), "cannoli")
	if models.KindOf(err) != models.ErrorKindMalformed {
		t.Errorf("expected malformed, got %v", err)
	}
}
