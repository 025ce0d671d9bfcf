package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/providers/artifact"
	imageprovider "gensvc/internal/providers/image"
	"gensvc/internal/providers/prompt"
)

const (
	providerName         = "openai"
	defaultChatModel     = "gpt-4o-mini"
	defaultImageModel    = "dall-e-2"
	openAIDefaultTimeout = 60 * time.Second
)

var openAIModelCanonical = map[string]string{
	"gpt-3.5-turbo": "gpt-3.5-turbo",
	"gpt-4o-mini":   "gpt-4o-mini",
	"gpt-4o":        "gpt-4o",
}

var openAIModelAliases = map[string]string{
	"gpt-3.5":                "gpt-3.5-turbo",
	"gpt3.5":                 "gpt-3.5-turbo",
	"gpt-3-5":                "gpt-3.5-turbo",
	"gpt-35-turbo":           "gpt-3.5-turbo",
	"gpt35-turbo":            "gpt-3.5-turbo",
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4o":                  "gpt-4o",
}

// Sizes accepted by each image model, keyed by aspect ratio.
var imageSizes = map[string]map[string]string{
	"dall-e-2": {
		"1:1": "1024x1024",
	},
	"dall-e-3": {
		"1:1":  "1024x1024",
		"16:9": "1792x1024",
		"4:3":  "1792x1024",
		"9:16": "1024x1792",
		"3:4":  "1024x1792",
	},
	"gpt-image-1": {
		"1:1":  "1024x1024",
		"16:9": "1536x1024",
		"4:3":  "1536x1024",
		"9:16": "1024x1536",
		"3:4":  "1024x1536",
	},
}

// Options configures the OpenAI client.
type Options struct {
	APIKey       string
	Model        string
	ImageModel   string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Normalizer   *artifact.Normalizer
	Logger       *infra.Logger
	OnWarning    func(reason, detail string)
}

// Client implements text completions and the three image capabilities
// against the OpenAI REST API.
type Client struct {
	apiKey       string
	model        string
	imageModel   string
	baseURL      string
	organization string
	client       *http.Client
	normalizer   *artifact.Normalizer
	logger       *infra.Logger
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type imageGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	modelInput := strings.TrimSpace(opts.Model)
	normalizedModel, normalizationReason := normalizeOpenAIModel(modelInput)
	if normalizationReason != "" && opts.OnWarning != nil {
		detail := fmt.Sprintf("requested=%s resolved=%s", modelInput, normalizedModel)
		opts.OnWarning("model_"+normalizationReason, detail)
	}
	imageModel := strings.ToLower(strings.TrimSpace(opts.ImageModel))
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = artifact.NewNormalizer(artifact.NewFetcher(artifact.FetcherOptions{HTTPClient: client}))
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        normalizedModel,
		imageModel:   imageModel,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		normalizer:   normalizer.WithRules(artifact.DefaultRules...),
		logger:       logger,
	}, nil
}

func (o *Client) Name() string { return providerName }

// Complete calls /chat/completions. Media is attached as a data URL image
// part.
func (o *Client) Complete(ctx context.Context, req prompt.Completion) (*prompt.CompletionResult, error) {
	payload := chatRequest{
		Model:       o.model,
		Temperature: req.Temperature,
	}
	if req.JSON {
		payload.ResponseFormat = &chatFormat{Type: "json_object"}
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	if len(req.Media) > 0 {
		mime := req.MediaMIME
		if mime == "" {
			mime = "image/png"
		}
		payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: []chatPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &chatImageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Media)}},
		}})
	} else {
		payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	raw, err := o.do(ctx, "text", "/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: "text", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return nil, &domain.ProviderError{Provider: providerName, Capability: "text", Err: errors.New("no choices")}
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return nil, &domain.ProviderError{Provider: providerName, Capability: "text", Err: errors.New("empty response")}
	}
	model := out.Model
	if model == "" {
		model = o.model
	}
	return &prompt.CompletionResult{
		Text:  text,
		Model: model,
		Usage: domain.TokenCounters{
			Input:  out.Usage.PromptTokens,
			Output: out.Usage.CompletionTokens,
			Total:  out.Usage.TotalTokens,
		},
	}, nil
}

// GenerateImages calls /images/generations. dall-e-3 only accepts n=1, so
// larger counts are issued as repeated calls.
func (o *Client) GenerateImages(ctx context.Context, req imageprovider.GenerateRequest) ([]domain.Artifact, error) {
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		return nil, errors.New("openai: prompt is required")
	}
	count := req.Count
	if count < 1 {
		count = 1
	}
	payload := imageGenerationRequest{
		Model:  o.imageModel,
		Prompt: text,
		Size:   o.sizeFor(req.AspectRatio),
	}
	if o.imageModel != "gpt-image-1" {
		payload.ResponseFormat = "b64_json"
	}
	if o.imageModel == "dall-e-3" {
		if req.Quality == "hd" {
			payload.Quality = "hd"
		}
		if s := strings.ToLower(req.Style); s == "vivid" || s == "natural" {
			payload.Style = s
		}
	}
	perCall := count
	if o.imageModel == "dall-e-3" {
		perCall = 1
	}
	var out []domain.Artifact
	for len(out) < count {
		payload.N = min(perCall, count-len(out))
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("openai: encode request: %w", err)
		}
		raw, err := o.do(ctx, "image_generate", "/images/generations", "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		arts, err := o.normalizer.Normalize(ctx, providerName, raw)
		if err != nil {
			return nil, err
		}
		if len(arts) == 0 {
			break
		}
		out = append(out, arts...)
	}
	return out, nil
}

// EditImage calls /images/edits with a multipart body.
func (o *Client) EditImage(ctx context.Context, req imageprovider.EditRequest) ([]domain.Artifact, error) {
	if len(req.Image) == 0 {
		return nil, errors.New("openai: source image is required")
	}
	fields := map[string]string{
		"model":  o.editModel(),
		"prompt": strings.TrimSpace(req.Prompt),
		"n":      "1",
		"size":   o.sizeFor(req.AspectRatio),
	}
	if o.editModel() != "gpt-image-1" {
		fields["response_format"] = "b64_json"
	}
	return o.multipartImages(ctx, "image_edit", "/images/edits", req.Image, req.MIME, fields)
}

// VaryImage calls /images/variations, which only dall-e-2 supports.
func (o *Client) VaryImage(ctx context.Context, req imageprovider.VariationRequest) ([]domain.Artifact, error) {
	if len(req.Image) == 0 {
		return nil, errors.New("openai: source image is required")
	}
	count := req.Count
	if count < 1 {
		count = 1
	}
	fields := map[string]string{
		"model":           "dall-e-2",
		"n":               strconv.Itoa(count),
		"size":            "1024x1024",
		"response_format": "b64_json",
	}
	return o.multipartImages(ctx, "image_variation", "/images/variations", req.Image, req.MIME, fields)
}

func (o *Client) multipartImages(ctx context.Context, capability, path string, image []byte, mime string, fields map[string]string) ([]domain.Artifact, error) {
	if mime == "" {
		mime = "image/png"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("openai: write field %s: %w", k, err)
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="source%s"`, extensionFor(mime)))
	header.Set("Content-Type", mime)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("openai: create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("openai: write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("openai: close multipart: %w", err)
	}
	raw, err := o.do(ctx, capability, path, w.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	return o.normalizer.Normalize(ctx, providerName, raw)
}

func (o *Client) do(ctx context.Context, capability, path, contentType string, body io.Reader) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: capability, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: capability, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		_ = json.Unmarshal(raw, &detail)
		perr := &domain.ProviderError{Provider: providerName, Capability: capability, Status: resp.StatusCode}
		if detail.Error.Type != "" {
			perr.Err = errors.New(detail.Error.Type)
		}
		o.logger.Warn().
			Str("capability", capability).
			Int("status", resp.StatusCode).
			Str("message", detail.Error.Message).
			Msg("openai: call failed")
		return nil, perr
	}
	return raw, nil
}

func (o *Client) sizeFor(aspect string) string {
	sizes := imageSizes[o.imageModel]
	return imageprovider.SizeFor(aspect, sizes, "1024x1024")
}

// editModel falls back to dall-e-2 because dall-e-3 has no edit endpoint.
func (o *Client) editModel() string {
	if o.imageModel == "dall-e-3" {
		return "dall-e-2"
	}
	return o.imageModel
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func normalizeOpenAIModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultChatModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		return alias, "alias"
	}
	return defaultChatModel, "defaulted"
}

var (
	_ prompt.TextModel        = (*Client)(nil)
	_ imageprovider.Generator = (*Client)(nil)
	_ imageprovider.Editor    = (*Client)(nil)
	_ imageprovider.Varier    = (*Client)(nil)
)
