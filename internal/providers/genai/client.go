package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gensvc/internal/domain"
	"gensvc/internal/infra"
	"gensvc/internal/providers/artifact"
	imageprovider "gensvc/internal/providers/image"
	"gensvc/internal/providers/prompt"
)

const providerName = "gemini"

// ResponseRules extracts image parts from generateContent responses.
var ResponseRules = append([]artifact.Rule{
	artifact.PathRule("candidates[].content.parts[].inlineData.data", false),
	artifact.PathRule("candidates[].content.parts[].fileData.fileUri", true),
}, artifact.DefaultRules...)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	HTTPClient *http.Client
	Normalizer *artifact.Normalizer
	Logger     *infra.Logger
}

// Client calls the Gemini REST API for text, analysis and image parts.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	imageModel string
	httpClient *http.Client
	normalizer *artifact.Normalizer
	logger     *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int                `json:"candidateCount,omitempty"`
	Temperature        *float64           `json:"temperature,omitempty"`
	ResponseMimeType   string             `json:"responseMimeType,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiGenerateContentResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
	ModelVersion  string            `json:"modelVersion"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
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
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		imageModel: imageModel,
		httpClient: client,
		normalizer: normalizer.WithRules(ResponseRules...),
		logger:     logger,
	}, nil
}

func (c *Client) Name() string { return providerName }

// Model returns the configured Gemini text model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete runs a text generation, optionally over one inline media part.
func (c *Client) Complete(ctx context.Context, req prompt.Completion) (*prompt.CompletionResult, error) {
	parts := []geminiPart{{Text: req.Prompt}}
	if len(req.Media) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: firstNonEmpty(req.MediaMIME, "image/png"),
			Data:     base64.StdEncoding.EncodeToString(req.Media),
		}})
	}
	temperature := req.Temperature
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount: 1,
			Temperature:    &temperature,
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.JSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}

	raw, err := c.invokeGemini(ctx, "text", c.model, payload)
	if err != nil {
		return nil, err
	}
	var decoded geminiGenerateContentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: "text", Err: fmt.Errorf("decode response: %w", err)}
	}
	var sb strings.Builder
	for _, cand := range decoded.Candidates {
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, &domain.ProviderError{Provider: providerName, Capability: "text", Err: errors.New("empty response")}
	}
	return &prompt.CompletionResult{
		Text:  text,
		Model: firstNonEmpty(decoded.ModelVersion, c.model),
		Usage: domain.TokenCounters{
			Input:  decoded.UsageMetadata.PromptTokenCount,
			Output: decoded.UsageMetadata.CandidatesTokenCount,
			Total:  decoded.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// GenerateImages asks the image model for image parts; one call per image.
func (c *Client) GenerateImages(ctx context.Context, req imageprovider.GenerateRequest) ([]domain.Artifact, error) {
	text := buildImagePrompt(req)
	if text == "" {
		return nil, errors.New("gemini: prompt is required")
	}
	count := req.Count
	if count < 1 {
		count = 1
	}
	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: text}}}},
		GenerationConfig: imageConfig(req.AspectRatio),
	}
	var out []domain.Artifact
	for i := 0; i < count; i++ {
		arts, err := c.generateImageParts(ctx, "image_generate", payload)
		if err != nil {
			return nil, err
		}
		out = append(out, arts...)
	}
	return out, nil
}

// EditImage sends the source image inline with the instruction.
func (c *Client) EditImage(ctx context.Context, req imageprovider.EditRequest) ([]domain.Artifact, error) {
	if len(req.Image) == 0 {
		return nil, errors.New("gemini: source image is required")
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{
			{InlineData: &geminiInlineData{
				MimeType: firstNonEmpty(req.MIME, "image/png"),
				Data:     base64.StdEncoding.EncodeToString(req.Image),
			}},
			{Text: strings.TrimSpace(req.Prompt)},
		}}},
		GenerationConfig: imageConfig(req.AspectRatio),
	}
	return c.generateImageParts(ctx, "image_edit", payload)
}

func (c *Client) generateImageParts(ctx context.Context, capability string, payload geminiGenerateContentRequest) ([]domain.Artifact, error) {
	raw, err := c.invokeGemini(ctx, capability, c.imageModel, payload)
	if err != nil {
		return nil, err
	}
	arts, err := c.normalizer.Normalize(ctx, providerName, raw)
	if err != nil {
		var shape *domain.ShapeError
		if errors.As(err, &shape) {
			c.logger.Warn().Str("capability", capability).Strs("fields", shape.Fields).Msg("gemini: no image part in response")
		}
		return nil, err
	}
	return arts, nil
}

func imageConfig(aspect string) *geminiGenerationConfig {
	cfg := &geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}}
	if aspect = strings.TrimSpace(aspect); aspect != "" {
		cfg.ImageConfig = &geminiImageConfig{AspectRatio: aspect}
	}
	return cfg
}

func (c *Client) invokeGemini(ctx context.Context, capability, model string, payload any) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: capability, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: capability, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		perr := &domain.ProviderError{Provider: providerName, Capability: capability, Status: resp.StatusCode}
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Status != "" {
			perr.Err = errors.New(apiErr.Error.Status)
		}
		c.logger.Warn().
			Str("capability", capability).
			Str("model", model).
			Int("status", resp.StatusCode).
			Str("message", apiErr.Error.Message).
			Msg("gemini: call failed")
		return nil, perr
	}
	return data, nil
}

func buildImagePrompt(req imageprovider.GenerateRequest) string {
	text := strings.TrimSpace(req.Prompt)
	if text == "" {
		return ""
	}
	var extras []string
	if req.Style != "" {
		extras = append(extras, "Style: "+req.Style+".")
	}
	if req.Quality == "hd" {
		extras = append(extras, "Render with fine detail and high resolution.")
	}
	if req.NegativePrompt != "" {
		extras = append(extras, "Avoid: "+req.NegativePrompt+".")
	}
	if len(extras) == 0 {
		return text
	}
	return text + "\n" + strings.Join(extras, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var (
	_ prompt.TextModel        = (*Client)(nil)
	_ imageprovider.Generator = (*Client)(nil)
	_ imageprovider.Editor    = (*Client)(nil)
)
