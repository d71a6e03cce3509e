// Package notes embeds the Plaid transaction identifier inside a ledger
// transaction's free-text note. The ledger schema has no column for a
// foreign key, so the note is the sole carrier of cross-system identity;
// everything that reads or writes the marker goes through this package,
// so a ledger with a native external-id field only needs a new codec.
package notes

import (
	"regexp"
	"strings"

	"github.com/joshsymonds/actual-sync/internal/model"
)

// IDPrefix marks the Plaid transaction id inside a note. The id follows
// immediately with no whitespace in between.
const IDPrefix = "plaid_id:"

// maxOriginalNameLen bounds the "Orig:" note segment.
const maxOriginalNameLen = 50

var idPattern = regexp.MustCompile(regexp.QuoteMeta(IDPrefix) + `(\S+)`)

// Format builds the note for a transaction delivered by Plaid. The result
// is deterministic: the id marker first, then the Plaid category summary,
// then the raw bank description when a distinct merchant name exists.
func Format(txn model.ExternalTransaction) string {
	var parts []string

	if txn.ID != "" {
		parts = append(parts, IDPrefix+txn.ID)
	}
	if len(txn.Categories) > 0 {
		parts = append(parts, "Plaid Cat: "+strings.Join(txn.Categories, ", "))
	}
	if txn.MerchantName != "" && txn.Name != txn.MerchantName {
		orig := txn.Name
		if len(orig) > maxOriginalNameLen {
			orig = orig[:maxOriginalNameLen]
		}
		parts = append(parts, "Orig: "+orig)
	}

	return strings.Join(parts, " | ")
}

// ParseSourceID extracts the Plaid transaction id from a note. It
// tolerates arbitrary user-edited text around the marker and reports
// false when no marker is present.
func ParseSourceID(note string) (string, bool) {
	if note == "" {
		return "", false
	}

	match := idPattern.FindStringSubmatch(note)
	if match == nil {
		return "", false
	}
	return match[1], true
}
