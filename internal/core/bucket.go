package core

import "github.com/zeebo/xxh3"

// BucketCount is the number of rollout buckets; buckets lie in [0, BucketCount).
const BucketCount = 100

// Bucket maps input onto a rollout bucket using the 64-bit XXH3 hash (seed 0)
// reduced modulo 100. It depends on nothing but the input bytes, so every
// process and every XXH3 implementation agrees on the result.
func Bucket(input string) int {
	return int(xxh3.HashString(input) % BucketCount)
}

// UserBucket returns the bucket for a user's percentage rollout of flagKey.
func UserBucket(flagKey, userID string) int {
	return Bucket(flagKey + ":user:" + userID)
}

// TenantBucket returns the bucket for a tenant's rollout of flagKey.
func TenantBucket(flagKey, tenantID string) int {
	return Bucket(flagKey + ":tenant:" + tenantID)
}
