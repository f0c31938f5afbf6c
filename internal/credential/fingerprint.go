package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
)

// fixedFingerprintSeed is used when hostname/username lookup fails on the
// host OS (spec §4.1 "Fallback to SHA-256 of a fixed constant").
const fixedFingerprintSeed = "kiro-gateway-fallback-fingerprint"

// computeFingerprint derives a deterministic, opaque suffix for outbound
// User-Agent headers: SHA-256 of "{hostname}-{username}-kiro-gateway".
func computeFingerprint() string {
	hostname, err := os.Hostname()
	if err != nil {
		return hashHex(fixedFingerprintSeed)
	}
	u, err := user.Current()
	if err != nil {
		return hashHex(fixedFingerprintSeed)
	}
	return hashHex(hostname + "-" + u.Username + "-kiro-gateway")
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
