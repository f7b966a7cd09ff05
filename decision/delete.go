package decision

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
)

// DefaultDeleteWindow number of recent history entries scanned for delete commands
const DefaultDeleteWindow = 3

var deleteRegex = regexp.MustCompile(`(?i)\bid:\s*(?P<id>\d+)\s*,?\s*DELETE\b`)

// ErrNoLedger is returned by an IDSource when there is nothing a delete could target
// (ledger file missing, empty or unreadable as a trade list).
var ErrNoLedger = errors.New("no ledger entries")

// IDSource read-only view of the ids currently present in the ledger.
// Implementations return an error wrapping ErrNoLedger when the ledger is absent,
// empty or corrupt; any other error is treated as an I/O failure.
type IDSource interface {
	IDs() ([]int64, error)
}

// HasDeleteCommand reports whether text contains an "id: N, DELETE" command
func HasDeleteCommand(text string) bool {
	return deleteRegex.MatchString(text)
}

// ExtractDeleteCommand returns the last delete command in window whose id exists in the ledger.
// Commands naming unknown ids are ignored. A missing, empty or corrupt ledger yields nil, nil.
func ExtractDeleteCommand(window []string, ids IDSource) (*DeleteIntent, error) {
	existing, err := ids.IDs()
	if err != nil {
		if errors.Is(err, ErrNoLedger) {
			log.Info().Err(err).Msg("🛡  Delete blocked by validation: no trades to delete")
			return nil, nil
		}
		return nil, err
	}
	if len(existing) == 0 {
		log.Info().Msg("🛡  Delete blocked by validation: ledger is empty")
		return nil, nil
	}

	known := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}

	var found *DeleteIntent
	for _, text := range window {
		for _, m := range deleteRegex.FindAllStringSubmatch(text, -1) {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			if _, ok := known[id]; !ok {
				log.Info().Int64("id", id).Msg("ℹ️  Delete command ignored, trade does not exist")
				continue
			}
			found = &DeleteIntent{TargetID: id}
		}
	}

	if found == nil {
		log.Info().Msg("ℹ️  No valid delete command in recent history")
		return nil, nil
	}
	log.Info().Int64("id", found.TargetID).Msg("✓ Valid delete command found")
	return found, nil
}
