package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint derives the resume key of a session. Two initialize calls with
// the same user, storage config, mount, path, file name and size produce the
// same fingerprint, which is how interrupted uploads find their session again.
// The value is prefixed with the hash algorithm so it can evolve.
func Fingerprint(userID, storageConfigID, mountID, fsPath, fileName string, fileSize int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d", userID, storageConfigID, mountID, fsPath, fileName, fileSize)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
