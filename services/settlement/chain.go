package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GenerateHash digests a field map deterministically: keys are sorted so the
// same record always produces the same hash.
func GenerateHash(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(fields[k])
		sb.WriteString("|")
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// recordHash covers every field fixed at append time. Seq is excluded because
// the database assigns it on insert.
func recordHash(r *TransactionRecord) string {
	return GenerateHash(map[string]string{
		"previous_hash":  r.PreviousHash,
		"reference_code": r.ReferenceCode,
		"kind":           r.Kind,
		"from_id":        r.FromID,
		"to_id":          r.ToID,
		"amount":         strconv.FormatInt(r.Amount, 10),
		"fee":            strconv.FormatInt(r.Fee, 10),
		"created_at":     strconv.FormatInt(r.CreatedAt.UnixNano(), 10),
	})
}

func verifyRecord(r *TransactionRecord, prevHash string) error {
	if r.PreviousHash != prevHash {
		return fmt.Errorf("record %s: broken link, expected previous hash %q", r.ReferenceCode, prevHash)
	}
	if recordHash(r) != r.Hash {
		return fmt.Errorf("record %s: stored hash does not match contents", r.ReferenceCode)
	}
	return nil
}
