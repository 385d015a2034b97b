// Package cache implements the cache tiers of the generation pipeline on top
// of an injected kv.Store. Every tier fails open: store errors are logged,
// counted and treated as a miss.
package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
)

// TTLs per tier.
const (
	ContextTTL   = time.Hour
	SessionTTL   = 30 * time.Minute
	VectorTTL    = 5 * time.Minute
	EmbeddingTTL = 24 * time.Hour
)

// Names used for logging and the cache metric label.
const (
	nameContext   = "context"
	nameSession   = "session"
	nameVector    = "vector"
	nameEmbedding = "embedding"
)

// signatureDims is how many leading components of an embedding feed its signature.
const signatureDims = 10

func ContextKey(tenant string) string {
	return "cag:context:" + tenant
}

func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

func VectorKey(tenant, signature string) string {
	return "vector:" + tenant + ":" + signature
}

func EmbeddingKey(hash string) string {
	return "embedding:" + hash
}

// Hash is the content address of a text: the first 32 hex chars of its SHA-256.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:32]
}

// Signature is a coarse fingerprint of an embedding. Vectors whose leading
// components agree to three decimals share a signature. Halves round up.
func Signature(vec []float32) string {
	n := min(len(vec), signatureDims)
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = strconv.FormatInt(int64(math.Floor(float64(vec[i])*1000+0.5)), 10)
	}
	sum := md5.Sum([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])[:16]
}
