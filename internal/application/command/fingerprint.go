package command

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
)

// Fingerprint returns a blake2b-256 digest of the assessment content.
// Timestamps and the previous fingerprint are excluded, so two evaluations
// of unchanged records produce the same fingerprint.
func Fingerprint(a risk.Assessment) (string, error) {
	c := a.Clone()
	c.Fingerprint = ""
	c.LastUpdated = time.Time{}
	for i := range c.Factors {
		c.Factors[i].DetectedAt = time.Time{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", a.StudentID, err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
