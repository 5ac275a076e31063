package models

// CacheConfig holds semantic cache retrieval and maintenance settings
type CacheConfig struct {
	// Retrieval
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold,omitempty"`
	MinConfidence       float64 `yaml:"min_confidence" json:"min_confidence,omitempty"`
	CandidateLimit      int     `yaml:"candidate_limit" json:"candidate_limit,omitempty"`

	// Redis fast-path mirror of cached answers
	MirrorTTLSeconds int `yaml:"mirror_ttl_seconds" json:"mirror_ttl_seconds,omitempty"`

	// Maintenance
	CleanupMinConfidence float64 `yaml:"cleanup_min_confidence" json:"cleanup_min_confidence,omitempty"`
	CleanupMaxAgeDays    int     `yaml:"cleanup_max_age_days" json:"cleanup_max_age_days,omitempty"`
	WarmupRecentDays     int     `yaml:"warmup_recent_days" json:"warmup_recent_days,omitempty"`
}

// DefaultCacheConfig returns the retrieval defaults used when the YAML
// section is absent or partially filled.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		SimilarityThreshold:  0.85,
		MinConfidence:        0.7,
		CandidateLimit:       200,
		MirrorTTLSeconds:     604800, // 7 days
		CleanupMinConfidence: 0.6,
		CleanupMaxAgeDays:    30,
		WarmupRecentDays:     7,
	}
}
