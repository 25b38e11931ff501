package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainReport = "libmap/report/v1"
	DomainBlob   = "libmap/blob/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ReportDigest computes the content-addressed identity of a report.
// Two runs over identical input produce the same digest.
func ReportDigest(r *Report) (string, error) {
	canonical, err := MarshalCanonical(r.Canonical())
	if err != nil {
		return "", fmt.Errorf("ReportDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainReport, canonical), nil
}

// BlobDigest identifies the analysed bytes.
func BlobDigest(blob []byte) string {
	return hashWithDomain(DomainBlob, blob)
}

// MustReportDigest is like ReportDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustReportDigest(r *Report) string {
	d, err := ReportDigest(r)
	if err != nil {
		panic(err)
	}
	return d
}
