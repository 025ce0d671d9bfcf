package qwen

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
)

const providerName = "qwen"

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// ResponseRules extracts DashScope multimodal outputs before falling back to
// the OpenAI-compatible shapes.
var ResponseRules = append([]artifact.Rule{
	artifact.PathRule("output.choices[].message.content[].image", true),
	artifact.PathRule("output.results[].url", true),
}, artifact.DefaultRules...)

var aspectSizes = map[string]string{
	"1:1":  "1328*1328",
	"16:9": "1664*928",
	"9:16": "928*1664",
	"4:3":  "1472*1140",
	"3:4":  "1140*1472",
}

// Options configures the DashScope Qwen client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EditModel      string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Normalizer     *artifact.Normalizer
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope multimodal generation API.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	editModel    string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	normalizer   *artifact.Normalizer
	logger       *infra.Logger
}

type generationRequest struct {
	Model      string           `json:"model"`
	Input      generationInput  `json:"input"`
	Parameters generationParams `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type generationParams struct {
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Size           string `json:"size,omitempty"`
	PromptExtend   *bool  `json:"prompt_extend,omitempty"`
	Watermark      *bool  `json:"watermark,omitempty"`
	Seed           *int   `json:"seed,omitempty"`
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "qwen-image"
	}
	editModel := strings.TrimSpace(opts.EditModel)
	if editModel == "" {
		editModel = "qwen-image-edit"
	}
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = artifact.NewNormalizer(artifact.NewFetcher(artifact.FetcherOptions{HTTPClient: httpClient}))
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
		baseURL:      baseURL,
		model:        model,
		editModel:    editModel,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		normalizer:   normalizer.WithRules(ResponseRules...),
		logger:       logger,
	}, nil
}

func (c *Client) Name() string { return providerName }

// Model returns the configured text-to-image model identifier.
func (c *Client) Model() string { return c.model }

// GenerateImages issues one DashScope call per requested image; the
// multimodal endpoint returns a single image per call.
func (c *Client) GenerateImages(ctx context.Context, req imageprovider.GenerateRequest) ([]domain.Artifact, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("qwen: prompt is required")
	}
	count := req.Count
	if count < 1 {
		count = 1
	}
	payload := generationRequest{
		Model: c.model,
		Input: generationInput{Messages: []generationMessage{{
			Role:    "user",
			Content: []generationContent{{Text: prompt}},
		}}},
		Parameters: c.params(req.NegativePrompt, req.AspectRatio, req.Seed),
	}
	if extend := c.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	var out []domain.Artifact
	for i := 0; i < count; i++ {
		arts, err := c.call(ctx, "image_generate", payload)
		if err != nil {
			return nil, err
		}
		out = append(out, arts...)
	}
	return out, nil
}

// EditImage sends the source inline as a data URL together with the
// instruction.
func (c *Client) EditImage(ctx context.Context, req imageprovider.EditRequest) ([]domain.Artifact, error) {
	if len(req.Image) == 0 {
		return nil, errors.New("qwen: source image is required")
	}
	instruction := strings.TrimSpace(req.Prompt)
	if instruction == "" {
		return nil, errors.New("qwen: edit instruction is required")
	}
	mime := req.MIME
	if mime == "" {
		mime = "image/png"
	}
	payload := generationRequest{
		Model: c.editModel,
		Input: generationInput{Messages: []generationMessage{{
			Role: "user",
			Content: []generationContent{
				{Image: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)},
				{Text: instruction},
			},
		}}},
		Parameters: c.params(imageprovider.DefaultNegativePrompt, "", 0),
	}
	return c.call(ctx, "image_edit", payload)
}

func (c *Client) params(negative, aspect string, seed int) generationParams {
	p := generationParams{}
	if neg := strings.TrimSpace(negative); neg != "" {
		p.NegativePrompt = neg
	}
	if aspect != "" {
		p.Size = imageprovider.SizeFor(aspect, aspectSizes, aspectSizes["1:1"])
	}
	if seed > 0 {
		p.Seed = &seed
	}
	watermark := c.watermark
	p.Watermark = &watermark
	return p
}

func (c *Client) call(ctx context.Context, capability string, payload generationRequest) ([]domain.Artifact, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("qwen: encode request: %w", err)
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: capability, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Capability: capability, Err: fmt.Errorf("read response: %w", err)}
	}

	var detail errorResponse
	_ = json.Unmarshal(raw, &detail)
	if resp.StatusCode >= 300 || detail.Code != "" {
		perr := &domain.ProviderError{Provider: providerName, Capability: capability}
		if resp.StatusCode >= 300 {
			perr.Status = resp.StatusCode
		}
		if detail.Code != "" {
			perr.Err = fmt.Errorf("%s (%s)", detail.Message, detail.Code)
		}
		c.logger.Warn().
			Str("capability", capability).
			Int("status", resp.StatusCode).
			Str("code", detail.Code).
			Str("request_id", detail.RequestID).
			Msg("qwen: call failed")
		return nil, perr
	}

	arts, err := c.normalizer.Normalize(ctx, providerName, raw)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("model", payload.Model).
		Str("capability", capability).
		Str("request_id", detail.RequestID).
		Int("artifacts", len(arts)).
		Msg("qwen: call completed")
	return arts, nil
}

var (
	_ imageprovider.Generator = (*Client)(nil)
	_ imageprovider.Editor    = (*Client)(nil)
)
