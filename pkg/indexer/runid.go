package indexer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewRunID allocates the token stamped onto every entry a rebuild pass
// writes. A UUID when the random source cooperates, time plus whatever
// entropy was read when it does not: the value only has to differ between
// consecutive runs of the same mount.
func NewRunID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}

	var entropy [4]byte
	_, _ = rand.Read(entropy[:])
	return fmt.Sprintf("run-%d-%s", time.Now().UnixNano(), hex.EncodeToString(entropy[:]))
}
