package image

import (
	"fmt"
	"strings"
)

// DefaultNegativePrompt captures undesirable artefacts we want the model to avoid.
const DefaultNegativePrompt = "low quality, blurry, distorted, washed out, incorrect anatomy, extra limbs, text artefacts, watermark"

// ThumbnailVariant is one of the fixed edit styles applied to a source frame.
type ThumbnailVariant struct {
	Name        string
	Instruction string
}

// ThumbnailVariants are applied in order; index i of a thumbnail run uses
// ThumbnailVariants[i%len].
var ThumbnailVariants = []ThumbnailVariant{
	{Name: "bold", Instruction: "Increase contrast and saturation, add a bold focal highlight on the main subject, keep the composition."},
	{Name: "clean", Instruction: "Clean up the background, soften distractions, and brighten the subject with even studio lighting."},
	{Name: "cinematic", Instruction: "Apply a cinematic color grade with teal shadows and warm highlights and a subtle vignette."},
}

// VariantFor returns the thumbnail variant for a 1-based item index.
func VariantFor(index int) ThumbnailVariant {
	if index < 1 {
		index = 1
	}
	return ThumbnailVariants[(index-1)%len(ThumbnailVariants)]
}

// EditInstruction merges the user's instruction with a variant style.
func EditInstruction(userPrompt string, v ThumbnailVariant) string {
	userPrompt = strings.TrimSpace(userPrompt)
	if userPrompt == "" {
		return v.Instruction
	}
	return fmt.Sprintf("%s %s", strings.TrimSuffix(userPrompt, ".")+".", v.Instruction)
}

// VariationPrompt nudges each item of a fan-out towards a distinct result.
func VariationPrompt(prompt string, total, index int) string {
	if total <= 1 {
		return prompt
	}
	return fmt.Sprintf("%s (variation %d of %d, distinct composition)", prompt, index, total)
}

// SizeFor maps an aspect ratio to the closest pixel size a provider accepts
// from sizes, keyed by aspect ratio. Unknown ratios fall back to fallback.
func SizeFor(aspect string, sizes map[string]string, fallback string) string {
	if s, ok := sizes[strings.TrimSpace(aspect)]; ok {
		return s
	}
	return fallback
}
