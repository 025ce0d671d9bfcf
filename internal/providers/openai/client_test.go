package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"gensvc/internal/domain"
	imageprovider "gensvc/internal/providers/image"
	"gensvc/internal/providers/prompt"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func jsonResponse(r *http.Request, status int, payload any) *http.Response {
	body, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    r,
	}
}

func b64Reply(r *http.Request, n int) *http.Response {
	data := make([]any, n)
	for i := range data {
		data[i] = map[string]any{"b64_json": base64.StdEncoding.EncodeToString(pngBytes)}
	}
	return jsonResponse(r, http.StatusOK, map[string]any{"created": 1, "data": data})
}

func TestCompleteUsesDataURLForMedia(t *testing.T) {
	var captured map[string]any
	client, err := NewClient(Options{
		APIKey:       "sk-test",
		Organization: "org-1",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/v1/chat/completions" || r.Header.Get("OpenAI-Organization") != "org-1" {
				t.Fatalf("unexpected request %s %v", r.URL.Path, r.Header)
			}
			_ = json.NewDecoder(r.Body).Decode(&captured)
			return jsonResponse(r, http.StatusOK, map[string]any{
				"model":   "gpt-4o-mini-2024-07-18",
				"choices": []any{map[string]any{"message": map[string]any{"content": " caption "}}},
				"usage":   map[string]any{"prompt_tokens": 40, "completion_tokens": 10, "total_tokens": 50},
			}), nil
		})},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := client.Complete(context.Background(), prompt.Completion{
		System:    "sys",
		Prompt:    "describe",
		Media:     []byte("img"),
		MediaMIME: "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Text != "caption" || res.Usage.Total != 50 || res.Model != "gpt-4o-mini-2024-07-18" {
		t.Fatalf("unexpected result: %+v", res)
	}
	messages := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(messages))
	}
	parts := messages[1].(map[string]any)["content"].([]any)
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if url != "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte("img")) {
		t.Fatalf("image url = %q", url)
	}
}

func TestGenerateImagesDallE3SplitsCalls(t *testing.T) {
	var bodies []map[string]any
	client, _ := NewClient(Options{
		APIKey:     "sk-test",
		ImageModel: "dall-e-3",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			bodies = append(bodies, body)
			return b64Reply(r, 1), nil
		})},
	})
	arts, err := client.GenerateImages(context.Background(), imageprovider.GenerateRequest{
		Prompt:      "poster",
		Count:       2,
		AspectRatio: "16:9",
		Quality:     "hd",
		Style:       "Vivid",
	})
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if len(arts) != 2 || len(bodies) != 2 {
		t.Fatalf("artifacts=%d calls=%d", len(arts), len(bodies))
	}
	b := bodies[0]
	if b["n"] != float64(1) || b["size"] != "1792x1024" || b["quality"] != "hd" || b["style"] != "vivid" || b["response_format"] != "b64_json" {
		t.Fatalf("unexpected payload: %v", b)
	}
}

func TestGenerateImagesDallE2BatchesAndDropsStyle(t *testing.T) {
	var body map[string]any
	client, _ := NewClient(Options{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			return b64Reply(r, 3), nil
		})},
	})
	arts, err := client.GenerateImages(context.Background(), imageprovider.GenerateRequest{Prompt: "p", Count: 3, Style: "vivid", AspectRatio: "16:9"})
	if err != nil || len(arts) != 3 {
		t.Fatalf("GenerateImages: %d, %v", len(arts), err)
	}
	if _, ok := body["style"]; ok {
		t.Fatalf("style must be omitted for dall-e-2")
	}
	if body["size"] != "1024x1024" || body["n"] != float64(3) {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestEditImageSendsMultipart(t *testing.T) {
	var fields = map[string]string{}
	var imageType string
	var imageData []byte
	client, _ := NewClient(Options{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/v1/images/edits" {
				t.Fatalf("path = %s", r.URL.Path)
			}
			_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil {
				t.Fatalf("content type: %v", err)
			}
			mr := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("next part: %v", err)
				}
				data, _ := io.ReadAll(part)
				if part.FormName() == "image" {
					imageType = part.Header.Get("Content-Type")
					imageData = data
					continue
				}
				fields[part.FormName()] = string(data)
			}
			return b64Reply(r, 1), nil
		})},
	})
	arts, err := client.EditImage(context.Background(), imageprovider.EditRequest{Image: pngBytes, MIME: "image/png", Prompt: "make it pop"})
	if err != nil || len(arts) != 1 {
		t.Fatalf("EditImage: %d, %v", len(arts), err)
	}
	if fields["prompt"] != "make it pop" || fields["model"] != "dall-e-2" || fields["response_format"] != "b64_json" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if imageType != "image/png" || !bytes.Equal(imageData, pngBytes) {
		t.Fatalf("image part mismatch: %s %d bytes", imageType, len(imageData))
	}
}

func TestVaryImageRequestsCount(t *testing.T) {
	var nField string
	client, _ := NewClient(Options{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			nField = r.FormValue("n")
			return b64Reply(r, 2), nil
		})},
	})
	arts, err := client.VaryImage(context.Background(), imageprovider.VariationRequest{Image: pngBytes, Count: 2})
	if err != nil || len(arts) != 2 || nField != "2" {
		t.Fatalf("VaryImage: %d artifacts, n=%q, err=%v", len(arts), nField, err)
	}
}

func TestErrorStatusIsProviderError(t *testing.T) {
	client, _ := NewClient(Options{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "Your request was rejected by the safety system", "type": "invalid_request_error"},
			}), nil
		})},
	})
	_, err := client.GenerateImages(context.Background(), imageprovider.GenerateRequest{Prompt: "p"})
	var perr *domain.ProviderError
	if !errors.As(err, &perr) || perr.Status != http.StatusBadRequest || perr.Capability != "image_generate" {
		t.Fatalf("expected 400 provider error, got %v", err)
	}
	if strings.Contains(err.Error(), "safety system") {
		t.Fatalf("provider message should only be logged: %v", err)
	}
	if imageprovider.IsTransient(err) {
		t.Fatalf("400 must not be retried")
	}
}

func TestNormalizeOpenAIModel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		input  string
		model  string
		reason string
	}{
		{name: "exact_default", input: "gpt-4o-mini", model: "gpt-4o-mini", reason: ""},
		{name: "exact_free", input: "gpt-3.5-turbo", model: "gpt-3.5-turbo", reason: ""},
		{name: "alias_short", input: "gpt-3.5", model: "gpt-3.5-turbo", reason: "alias"},
		{name: "alias_spaces", input: "GPT4o mini", model: "gpt-4o-mini", reason: "alias"},
		{name: "unsupported", input: "gpt-4.1", model: "gpt-4o-mini", reason: "defaulted"},
		{name: "empty", input: "", model: "gpt-4o-mini", reason: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gotModel, gotReason := normalizeOpenAIModel(tc.input)
			if gotModel != tc.model {
				t.Fatalf("model = %q, want %q", gotModel, tc.model)
			}
			if gotReason != tc.reason {
				t.Fatalf("reason = %q, want %q", gotReason, tc.reason)
			}
		})
	}
}

func TestNewClientWarnsOnUnsupportedModel(t *testing.T) {
	var reason, detail string
	client, err := NewClient(Options{
		APIKey: "sk-test",
		Model:  "gpt-5 thinking",
		OnWarning: func(r, d string) {
			reason, detail = r, d
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.model != "gpt-4o-mini" || reason != "model_defaulted" || !strings.Contains(detail, "resolved=gpt-4o-mini") {
		t.Fatalf("unexpected warning: model=%s reason=%s detail=%s", client.model, reason, detail)
	}
}
