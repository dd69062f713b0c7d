package generate

// perVariantSeed derives the sampling seed for one variant from the global
// seed and the variant index.
//
// The combining rule is a splitmix64 finalizer over
// seed ^ (index * 0x9E3779B97F4A7C15). It is part of the reproducibility
// contract: changing it silently breaks every previously archived run, so it
// must never change without explicit versioning.
func perVariantSeed(seed int64, index int) int64 {
	z := uint64(seed) ^ (uint64(index) * 0x9E3779B97F4A7C15)
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return int64(z)
}
