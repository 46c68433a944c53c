// ABOUTME: Extracts structured action markers from free-form assistant proposals
// ABOUTME: Each well-formed marker becomes one pending Action

package action

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/craterhq/crater/internal/store"
)

// markerRe matches one [ACTION]...[/ACTION] block. The body is a JSON
// object carrying type, description, and payload.
var markerRe = regexp.MustCompile(`(?s)\[ACTION\](.*?)\[/ACTION\]`)

// Proposed is one action lifted out of a proposal, not yet persisted.
type Proposed struct {
	Type        store.ActionType `json:"type"`
	Description string           `json:"description"`
	Payload     json.RawMessage  `json:"payload"`
}

// ParseProposal scans raw text for action markers and returns the
// well-formed ones in document order. Malformed markers and markers with
// an unknown type are skipped, never fatal: a proposal with zero valid
// markers is an ordinary empty result.
func ParseProposal(raw string, logger *slog.Logger) []Proposed {
	if logger == nil {
		logger = slog.Default()
	}

	var out []Proposed
	for _, m := range markerRe.FindAllStringSubmatch(raw, -1) {
		body := strings.TrimSpace(m[1])

		var p Proposed
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			logger.Warn("skipping malformed action marker", "error", err)
			continue
		}
		if !p.Type.Valid() {
			logger.Warn("skipping action marker with unknown type", "type", string(p.Type))
			continue
		}
		if p.Payload == nil {
			p.Payload = json.RawMessage(`{}`)
		}
		out = append(out, p)
	}
	return out
}
