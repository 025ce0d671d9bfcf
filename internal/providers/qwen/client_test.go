package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"gensvc/internal/domain"
	imageprovider "gensvc/internal/providers/image"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestGenerateImagesCallsOncePerImage(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, err := NewClient(Options{
		APIKey:       "test",
		PromptExtend: true,
		HTTPClient:   &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", imageReply("https://example.com/generated/out.png"))
	transport.setBinaryResponse("https://example.com/generated/out.png", pngHeader)

	arts, err := client.GenerateImages(context.Background(), imageprovider.GenerateRequest{
		Prompt:      "a lighthouse",
		Count:       2,
		AspectRatio: "16:9",
		Seed:        42,
	})
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if len(arts) != 2 || transport.posts != 2 {
		t.Fatalf("artifacts = %d, posts = %d; want 2 and 2", len(arts), transport.posts)
	}
	if arts[0].ContentType != "image/png" || !bytes.Equal(arts[0].Data, pngHeader) {
		t.Fatalf("unexpected artifact: %+v", arts[0])
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != "qwen-image" {
		t.Fatalf("model = %v", payload["model"])
	}
	params := payload["parameters"].(map[string]any)
	if params["size"] != "1664*928" || params["prompt_extend"] != true || params["seed"] != float64(42) {
		t.Fatalf("unexpected parameters: %v", params)
	}
}

func TestEditImageSendsInlineSource(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, err := NewClient(Options{APIKey: "test", PromptExtend: true, HTTPClient: &http.Client{Transport: transport}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", imageReply("https://example.com/edit.png"))
	transport.setBinaryResponse("https://example.com/edit.png", pngHeader)

	arts, err := client.EditImage(context.Background(), imageprovider.EditRequest{
		Image:  []byte{0x01, 0x02, 0x03},
		MIME:   "image/jpeg",
		Prompt: "add a bold title",
	})
	if err != nil {
		t.Fatalf("EditImage: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(arts))
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != "qwen-image-edit" {
		t.Fatalf("model = %v, want qwen-image-edit", payload["model"])
	}
	params := payload["parameters"].(map[string]any)
	if _, ok := params["prompt_extend"]; ok {
		t.Fatalf("prompt_extend should be omitted for editing")
	}
	messages := payload["input"].(map[string]any)["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	if len(content) != 2 {
		t.Fatalf("content len = %d, want 2", len(content))
	}
	img, _ := content[0].(map[string]any)["image"].(string)
	if !strings.HasPrefix(img, "data:image/jpeg;base64,") {
		t.Fatalf("image content = %q", img)
	}
	if text := content[1].(map[string]any)["text"]; text != "add a bold title" {
		t.Fatalf("text content = %v", text)
	}
}

func TestCallMapsErrorCodes(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, _ := NewClient(Options{APIKey: "test", HTTPClient: &http.Client{Transport: transport}})
	body, _ := json.Marshal(map[string]any{"code": "InternalError.Algo", "message": "inference failed"})
	transport.responses["/api/v1/services/aigc/multimodal-generation/generation"] = responseStub{status: http.StatusInternalServerError, body: body}

	_, err := client.GenerateImages(context.Background(), imageprovider.GenerateRequest{Prompt: "x"})
	var perr *domain.ProviderError
	if !errors.As(err, &perr) || perr.Status != http.StatusInternalServerError || perr.Capability != "image_generate" {
		t.Fatalf("expected provider error, got %v", err)
	}
	if !imageprovider.IsTransient(err) {
		t.Fatalf("500 should be transient")
	}
}

func TestUnknownShapeIsShapeError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, _ := NewClient(Options{APIKey: "test", HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("/api/v1/services/aigc/multimodal-generation/generation", map[string]any{
		"output":     map[string]any{"task_status": "PENDING"},
		"request_id": "r-1",
	})
	_, err := client.GenerateImages(context.Background(), imageprovider.GenerateRequest{Prompt: "x"})
	var shape *domain.ShapeError
	if !errors.As(err, &shape) || strings.Join(shape.Fields, ",") != "output,request_id" {
		t.Fatalf("expected shape error, got %v", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func imageReply(url string) map[string]any {
	return map[string]any{
		"output": map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": []any{
							map[string]any{"image": url},
						},
					},
				},
			},
		},
		"usage":      map[string]any{"width": 1024, "height": 1024},
		"request_id": "req-123",
	}
}

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
	posts     int
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		c.posts++
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(req), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(req), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("not found")),
		Request:    req,
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (c *captureTransport) setBinaryResponse(url string, data []byte) {
	c.responses[url] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"image/png"}},
		body:   data,
	}
}

func (s responseStub) toResponse(req *http.Request) *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		cloned := make([]string, len(values))
		copy(cloned, values)
		header[k] = cloned
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
		Request:    req,
	}
}
