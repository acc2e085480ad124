package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// userCodeCharset avoids visually ambiguous characters (0/O, 1/I/L).
const userCodeCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// userCodeLength is the number of alphabet characters in a user code,
// excluding the separator. 31^8 codes make online guessing within the
// 15-minute authorization lifetime infeasible.
const userCodeLength = 8

// agentTokenPrefix marks bearer tokens issued by this service.
const agentTokenPrefix = "alk_"

// CryptoRandomBytes generates cryptographically secure random bytes.
func CryptoRandomBytes(length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("rng failure: %w", err)
	}
	return buf, nil
}

// GenerateDeviceCode returns a high-entropy URL-safe device code. The
// plaintext goes only to the requesting agent; callers persist HashToken
// of it.
func GenerateDeviceCode() (string, error) {
	buf, err := CryptoRandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateUserCode returns a human-transcribable code like "ABCD-EFGH".
func GenerateUserCode() (string, error) {
	code := make([]byte, userCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userCodeCharset))))
		if err != nil {
			return "", fmt.Errorf("rng failure: %w", err)
		}
		code[i] = userCodeCharset[n.Int64()]
	}
	return string(code[:4]) + "-" + string(code[4:]), nil
}

// GenerateAgentToken returns a new bearer token as (plaintext, hash,
// displayPrefix). The plaintext is handed out exactly once; only the hash
// and prefix are persisted.
func GenerateAgentToken() (plaintext, hash, prefix string, err error) {
	buf, err := CryptoRandomBytes(32)
	if err != nil {
		return "", "", "", err
	}
	plaintext = agentTokenPrefix + base64.RawURLEncoding.EncodeToString(buf)
	hash = HashToken(plaintext)
	prefix = plaintext[:8]
	return plaintext, hash, prefix, nil
}

// HashToken returns the SHA-256 hash of a token as lowercase hex. Device
// codes and bearer tokens are high-entropy random values, so an unsalted
// digest is sufficient for storage.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NormalizeUserCode maps user input ("abcd1234", "ABCD-1234", "abcd 1234")
// to the canonical stored form "ABCD-1234". Only user codes go through
// this; device codes are machine-supplied and matched verbatim.
func NormalizeUserCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if len(normalized) == userCodeLength {
		return normalized[:4] + "-" + normalized[4:]
	}
	return normalized
}
