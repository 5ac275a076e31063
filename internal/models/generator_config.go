package models

// EmbeddingConfig holds settings for the vector embedding backend
type EmbeddingConfig struct {
	APIKey     string `yaml:"api_key" json:"-"`
	Model      string `yaml:"model" json:"model,omitempty"`
	Dimensions int    `yaml:"dimensions" json:"dimensions,omitempty"`
}

// GeneratorConfig holds settings for one text generation backend
type GeneratorConfig struct {
	APIKey          string `yaml:"api_key" json:"-"`
	Model           string `yaml:"model" json:"model,omitempty"`
	SystemPrompt    string `yaml:"system_prompt" json:"system_prompt,omitempty"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	MinAnswerLength int    `yaml:"min_answer_length" json:"min_answer_length,omitempty"`
}

// GeneratorsConfig groups the primary and fallback generation backends
type GeneratorsConfig struct {
	Primary  GeneratorConfig `yaml:"primary" json:"primary"`
	Fallback GeneratorConfig `yaml:"fallback" json:"fallback"`
}
