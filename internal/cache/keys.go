package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const resultKeyPrefix = "sentiment:result:"

// ResultKey builds the cache key for an analysis result. The fingerprint
// covers everything that affects the output: video identity, how many
// comments were requested, and the payload version.
func ResultKey(videoID string, requestedCount, payloadVersion int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|v%d", videoID, requestedCount, payloadVersion))
	return resultKeyPrefix + videoID + ":" + hex.EncodeToString(sum[:8])
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func statsKey(counter string) string {
	return "sentiment:stats:" + counter
}
