package mvccdb

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// NewRevID derives a new leaf's revision id by hashing the parent rev
// (empty for a document's first revision) together with its body pointer,
// matching the write pipeline's "synthesize a new rev id by re-hashing with
// the old leaf as parent" rule used both for ordinary edits and for the
// pos==1-after-delete recreation case. The hash is non-cryptographic: rev
// ids only need to be collision-resistant enough to detect independently
// authored conflicting edits, not to resist a malicious peer.
func NewRevID(parentRev, bodyPtr string) string {
	h := xxhash.New()
	_, _ = h.Write([]byte(parentRev))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(bodyPtr))
	return hex.EncodeToString(h.Sum(nil))
}
