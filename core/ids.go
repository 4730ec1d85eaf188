package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"socialbackend/utils"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a lowercase prefix joined to a ULID, e.g. "int_01G0EZ1XTM37C5X11SQTDNCTM1".
// IDs generated within the same millisecond still sort in creation order.
func NewID(prefix string) string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	utils.AssertInvariant(prefix != "", "id prefix cannot be empty")

	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()

	return prefix + "_" + id.String()
}

// NewRandomToken returns n random bytes as unpadded URL-safe base64. Used for OAuth state.
func NewRandomToken(n int) (string, error) {
	utils.AssertInvariant(n > 0, "random token length must be positive, got %d", n)

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
