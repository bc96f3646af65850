package grouping

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/kalambet/coach/internal/retrieval"
)

// Fingerprint produces a deterministic digest identifying a fragment set
// within a domain. The same domain and ordered fragments always hash to the
// same value, so cached groupings are shared across calls and callers.
func Fingerprint(domain string, frags []retrieval.Fragment) string {
	h := sha256.New()
	io.WriteString(h, domain)
	for _, f := range frags {
		// NUL separators keep adjacent fields from running together.
		h.Write([]byte{0})
		io.WriteString(h, f.ID)
		h.Write([]byte{0})
		io.WriteString(h, f.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}
