package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Simulator stands in for the real bucket in local dev and tests: no network,
// deterministic URLs.
type Simulator struct {
	bucket   string
	endpoint string
}

func NewSimulator(bucket, endpoint string) *Simulator {
	return &Simulator{
		bucket:   strings.TrimSpace(bucket),
		endpoint: strings.TrimSpace(endpoint),
	}
}

func (r *Simulator) MirrorImage(sourceURL, keyPrefix string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("empty source url")
	}

	sum := sha256.Sum256([]byte(sourceURL))
	key := hex.EncodeToString(sum[:])

	ep := r.endpoint
	if ep == "" {
		ep = "https://storage.example.invalid"
	}
	bucket := r.bucket
	if bucket == "" {
		bucket = "teampulse"
	}

	return fmt.Sprintf("%s/%s/%s/%s.png", strings.TrimRight(ep, "/"), bucket, keyPrefix, key), nil
}
