package versioning

// Config carries the versioning options: delta_threshold,
// enable_compression, compression_threshold_days,
// enable_reconstruction_cache, enable_auto_promotion.
type Config struct {
	// DeltaThreshold: a version is stored as a delta once
	// version_count+1 > DeltaThreshold and a parent version exists.
	// DeltaThreshold=0 means every version after the first is a
	// delta; a large value means "always full copy".
	DeltaThreshold int

	EnableCompression        bool
	CompressionThresholdDays int

	EnableReconstructionCache bool
	CacheSize                 int

	EnableAutoPromotion          bool
	AutoPromotionAccessThreshold int
}

// DefaultConfig: 10 versions before going delta, a 7-day compression
// window, a 256-entry cache, promotion after 5 reads.
func DefaultConfig() Config {
	return Config{
		DeltaThreshold:               10,
		EnableCompression:            true,
		CompressionThresholdDays:     7,
		EnableReconstructionCache:    true,
		CacheSize:                    256,
		EnableAutoPromotion:          true,
		AutoPromotionAccessThreshold: 5,
	}
}
