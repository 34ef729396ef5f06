package types

// GenerateRequest represents a generation request payload.
type GenerateRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: small-stable-diffusion
	Model string `json:"model,omitempty" example:"small-stable-diffusion"`
	// Required prompt text describing the image.
	// example: a cute dog playing in a sunny park
	Prompt string `json:"prompt" example:"a cute dog playing in a sunny park"`
	// Optional negative prompt. If empty, a default is used.
	// example: blurry, low quality, distorted
	NegativePrompt string `json:"negative_prompt,omitempty" example:"blurry, low quality, distorted"`
	// Optional style keyword set appended during enhancement:
	// realistic|artistic|professional|cinematic.
	// example: realistic
	Style string `json:"style,omitempty" example:"realistic"`
	// Number of images to generate. Defaults to 1.
	// example: 2
	Count int `json:"count,omitempty" example:"2"`
	// Base seed for reproducibility; nil lets the server draw one.
	// Image k uses seed+k.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
}

// GeneratedImage describes one saved output image.
type GeneratedImage struct {
	// Path of the saved image file.
	Path string `json:"path"`
	// Seed actually used for this image.
	// example: 42
	Seed int64 `json:"seed" example:"42"`
}

// GenerateResponse is returned by POST /generate.
type GenerateResponse struct {
	// Saved images in request order.
	Images []GeneratedImage `json:"images"`
	// Base seed the per-image seeds were derived from.
	// example: 42
	BaseSeed int64 `json:"base_seed" example:"42"`
	// Model used for generation.
	Model string `json:"model"`
	// Enhanced prompt after keyword augmentation and truncation.
	Prompt string `json:"prompt"`
	// Negative prompt used.
	NegativePrompt string `json:"negative_prompt"`
}

// FinetuneRequest represents a fine-tuning request payload.
type FinetuneRequest struct {
	// Base model identifier to fine-tune.
	// example: small-stable-diffusion
	Model string `json:"model" example:"small-stable-diffusion"`
	// Path to the dataset manifest (CSV: text,image_path[,category]).
	// example: data/train/dataset.csv
	Manifest string `json:"manifest" example:"data/train/dataset.csv"`
	// Hyperparameter overrides; zero values fall back to the model defaults.
	Hyperparameters Hyperparameters `json:"hyperparameters,omitempty"`
	// Optional checkpoint directory to resume from.
	ResumeFrom string `json:"resume_from,omitempty"`
	// Register the best checkpoint as a new model on completion.
	// example: true
	Promote bool `json:"promote,omitempty" example:"true"`
}

// RunStatus summarizes a fine-tuning run for the API.
type RunStatus struct {
	// Run identifier.
	// example: 7b0d3f6e-9a41-4a9e-8a6e-2f1f8d9c0b21
	ID string `json:"id"`
	// Base model identifier.
	Model string `json:"model"`
	// Lifecycle state: created|running|completed|failed|cancelled.
	// example: running
	State RunState `json:"state" example:"running"`
	// Last completed epoch (zero-based); -1 before the first epoch finishes.
	// example: 3
	Epoch int `json:"epoch" example:"3"`
	// Total epochs requested.
	// example: 10
	Epochs int `json:"epochs" example:"10"`
	// Mean training loss of the last completed epoch.
	TrainLoss float64 `json:"train_loss,omitempty"`
	// Validation loss of the last completed epoch.
	ValLoss float64 `json:"val_loss,omitempty"`
	// Directory of the most recent checkpoint, if any.
	LastCheckpoint string `json:"last_checkpoint,omitempty"`
	// Directory of the lowest-validation-loss checkpoint, if any.
	BestCheckpoint string `json:"best_checkpoint,omitempty"`
	// Identifier the run was promoted under, when promotion happened.
	PromotedAs string `json:"promoted_as,omitempty"`
	// Failure message when state is failed.
	Error string `json:"error,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of registered models.
	Models []ModelConfig `json:"models"`
}

// RegisterRequest represents a model registration payload.
type RegisterRequest struct {
	// Model configuration to register.
	Config ModelConfig `json:"config"`
	// Replace an existing entry with the same id.
	// example: false
	Overwrite bool `json:"overwrite,omitempty" example:"false"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
