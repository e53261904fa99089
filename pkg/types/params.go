package types

// TextParams are the generation parameters for a text job.
type TextParams struct {
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Repeat penalty applied to recent tokens.
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Random seed for reproducibility; 0 or omitted lets the engine choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Optional stop sequences. Generation stops when any sequence is matched.
	Stop []string `json:"stop,omitempty"`
}

// ImageParams are the generation parameters for an image job.
type ImageParams struct {
	// Required prompt describing the image.
	// example: a lighthouse at dawn, oil painting
	Prompt string `json:"prompt" example:"a lighthouse at dawn, oil painting"`
	// Things the image should not contain.
	// example: blurry, text
	NegativePrompt string `json:"negative_prompt,omitempty" example:"blurry, text"`
	// Output width in pixels. Defaults to 512.
	// example: 512
	Width int `json:"width,omitempty" example:"512"`
	// Output height in pixels. Defaults to 512.
	// example: 512
	Height int `json:"height,omitempty" example:"512"`
	// Number of denoising steps. Defaults to 15.
	// example: 15
	Steps int `json:"steps,omitempty" example:"15"`
	// Classifier-free guidance scale.
	// example: 7.5
	GuidanceScale float64 `json:"guidance_scale,omitempty" example:"7.5"`
	// Random seed; 0 or omitted picks a random seed per sample.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Number of samples to generate. Defaults to 1.
	// example: 1
	NumSamples int `json:"num_samples,omitempty" example:"1"`
}
