package types

// ModelConfig describes a registered text-to-image model.
type ModelConfig struct {
	// Stable identifier for the model.
	// example: small-stable-diffusion
	ID string `json:"id" yaml:"id" toml:"id" example:"small-stable-diffusion"`
	// Backing engine name (selects the inference adapter).
	// example: diffusers
	Engine string `json:"engine" yaml:"engine" toml:"engine" example:"diffusers"`
	// Number of inference steps per image.
	// example: 20
	Steps int `json:"steps" yaml:"steps" toml:"steps" example:"20"`
	// Output width in pixels. Must be a positive multiple of the tile size.
	// example: 512
	Width int `json:"width" yaml:"width" toml:"width" example:"512"`
	// Output height in pixels. Must be a positive multiple of the tile size.
	// example: 512
	Height int `json:"height" yaml:"height" toml:"height" example:"512"`
	// Classifier-free guidance scale. Zero disables guidance.
	// example: 7.5
	GuidanceScale float64 `json:"guidance_scale,omitempty" yaml:"guidance_scale" toml:"guidance_scale" example:"7.5"`
	// Optional path to the model weights on disk. Empty for engines with
	// built-in weights.
	WeightsPath string `json:"weights_path,omitempty" yaml:"weights_path" toml:"weights_path"`
	// Default fine-tuning hyperparameters for this model.
	Defaults Hyperparameters `json:"defaults,omitempty" yaml:"defaults" toml:"defaults"`
}

// Hyperparameters are the tunables for a fine-tuning run.
type Hyperparameters struct {
	// Number of training epochs.
	// example: 10
	Epochs int `json:"epochs" yaml:"epochs" toml:"epochs" example:"10"`
	// Training batch size.
	// example: 1
	BatchSize int `json:"batch_size" yaml:"batch_size" toml:"batch_size" example:"1"`
	// Optimizer learning rate.
	// example: 0.0001
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate" toml:"learning_rate" example:"0.0001"`
	// Training resolution in pixels (square).
	// example: 512
	Resolution int `json:"resolution" yaml:"resolution" toml:"resolution" example:"512"`
	// Train fraction of the dataset; the remainder is validation.
	// example: 0.8
	SplitRatio float64 `json:"split_ratio,omitempty" yaml:"split_ratio" toml:"split_ratio" example:"0.8"`
	// Save a checkpoint every N epochs. Zero or one means every epoch.
	// example: 1
	CheckpointEvery int `json:"checkpoint_every,omitempty" yaml:"checkpoint_every" toml:"checkpoint_every" example:"1"`
}

// Prompt is the processed form of a user prompt, ready for conditioning.
type Prompt struct {
	// Original user text, trimmed and whitespace-normalized.
	Raw string `json:"raw"`
	// Raw text with quality keywords appended and de-duplicated, truncated
	// to the encoder token budget.
	Enhanced string `json:"enhanced"`
	// Negative prompt: caller value or the default boilerplate.
	Negative string `json:"negative"`
}

// DatasetExample is one validated (conditioning text, image) training pair.
type DatasetExample struct {
	// Conditioning text. Never empty after validation.
	Text string `json:"text"`
	// Absolute path to a verified, decodable image.
	ImagePath string `json:"image_path"`
	// Optional category label.
	Category string `json:"category,omitempty"`
}

// Checkpoint is a persisted training snapshot: metadata here, the opaque
// weights blob alongside it on disk.
type Checkpoint struct {
	// Identifier of the training run that produced this checkpoint.
	RunID string `json:"run_id"`
	// Epoch number at save time (zero-based).
	Epoch int `json:"epoch"`
	// Mean training loss over the epoch.
	TrainLoss float64 `json:"train_loss"`
	// Validation loss at save time.
	ValLoss float64 `json:"val_loss"`
	// Path to the serialized weights blob.
	WeightsPath string `json:"weights_path"`
	// Base model the run started from.
	BaseModel string `json:"base_model"`
	// Save time in unix seconds.
	SavedAtUnix int64 `json:"saved_at_unix"`
}

// RunState is the lifecycle state of a fine-tuning run.
type RunState string

const (
	RunCreated   RunState = "created"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}
