package image

import (
	"context"

	"gensvc/internal/domain"
)

// GenerateRequest describes a text-to-image call. Count is the number of
// images asked of a single provider call.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Count          int
	AspectRatio    string
	Style          string
	Quality        string
	Seed           int
}

// EditRequest applies an instruction to a source image.
type EditRequest struct {
	Image       []byte
	MIME        string
	Prompt      string
	AspectRatio string
}

// VariationRequest asks for variations of a source image without an
// instruction.
type VariationRequest struct {
	Image       []byte
	MIME        string
	Count       int
	AspectRatio string
}

// Generator implements the ImageGenerate capability.
type Generator interface {
	Name() string
	GenerateImages(ctx context.Context, req GenerateRequest) ([]domain.Artifact, error)
}

// Editor implements the ImageEdit capability.
type Editor interface {
	Name() string
	EditImage(ctx context.Context, req EditRequest) ([]domain.Artifact, error)
}

// Varier implements the ImageVariation capability.
type Varier interface {
	Name() string
	VaryImage(ctx context.Context, req VariationRequest) ([]domain.Artifact, error)
}
