package models

import "time"

// OrchestratorConfig holds generation-flow settings: the per-message lock,
// the contention wait loop, and the batch sweep.
type OrchestratorConfig struct {
	LockTTLSeconds      int `yaml:"lock_ttl_seconds" json:"lock_ttl_seconds,omitempty"`
	WaitIntervalSeconds int `yaml:"wait_interval_seconds" json:"wait_interval_seconds,omitempty"`
	WaitTimeoutSeconds  int `yaml:"wait_timeout_seconds" json:"wait_timeout_seconds,omitempty"`

	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" json:"sweep_interval_seconds,omitempty"`
	SweepLookbackMinutes int `yaml:"sweep_lookback_minutes" json:"sweep_lookback_minutes,omitempty"`

	WorkerPoolSize   int `yaml:"worker_pool_size" json:"worker_pool_size,omitempty"`
	WorkerBufferSize int `yaml:"worker_buffer_size" json:"worker_buffer_size,omitempty"`
}

// DefaultOrchestratorConfig returns production defaults. The lock TTL must
// exceed the maximum plausible generation latency; it is the safety net
// against crashed workers, not the normal release path.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		LockTTLSeconds:       300,
		WaitIntervalSeconds:  2,
		WaitTimeoutSeconds:   30,
		SweepIntervalSeconds: 90,
		SweepLookbackMinutes: 30,
		WorkerPoolSize:       2,
		WorkerBufferSize:     256,
	}
}

func (c OrchestratorConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c OrchestratorConfig) WaitInterval() time.Duration {
	return time.Duration(c.WaitIntervalSeconds) * time.Second
}

func (c OrchestratorConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}
