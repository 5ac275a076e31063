package models

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string `yaml:"port" json:"port,omitempty"`
	AllowedOrigins string `yaml:"allowed_origins" json:"allowed_origins,omitempty"`
	Environment    string `yaml:"environment" json:"environment,omitempty"`
	LogLevel       string `yaml:"log_level" json:"log_level,omitempty"`
}
