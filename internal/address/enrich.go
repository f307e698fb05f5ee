package address

import (
	"context"
	"log/slog"
	"strings"
)

// EnrichPropertyAddress resolves text to the single best candidate and
// flattens it into the fields stored on a property record. The boolean is
// false when the provider returned nothing usable.
func (c *Client) EnrichPropertyAddress(ctx context.Context, text string) (Enrichment, bool) {
	result := c.lookup(ctx, OperationEnrich, text, SuggestOptions{Count: 1})
	if len(result.Suggestions) == 0 {
		if result.Outcome != OutcomeDisabled {
			c.logger.Warn("address enrichment found no match",
				slog.String("address", text),
				slog.String("outcome", string(result.Outcome)))
		}
		return Enrichment{}, false
	}
	return enrichmentFrom(result.Suggestions[0]), true
}

func enrichmentFrom(s Suggestion) Enrichment {
	comp := s.Components
	return Enrichment{
		City:        comp.City,
		Area:        comp.Area,
		Settlement:  comp.Settlement,
		Street:      comp.Street,
		House:       comp.House,
		Block:       comp.Block,
		District:    joinNonEmpty(", ", comp.Area, comp.Settlement),
		Latitude:    comp.GeoLat,
		Longitude:   comp.GeoLon,
		FullAddress: s.Text,
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
