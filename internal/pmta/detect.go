package pmta

import (
	"strings"

	"github.com/customeros/mailpulse/internal/enum"
)

// DetectType returns the known type whose expected headers best match the
// given header row, or unknown when no type reaches minRatio.
func DetectType(headers []string, minRatio float64) enum.EventType {
	if len(headers) == 0 {
		return enum.EventTypeUnknown
	}

	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[normalizeHeader(h)] = struct{}{}
	}

	best := enum.EventTypeUnknown
	bestRatio := 0.0
	for _, known := range knownTypes {
		ratio := matchRatio(present, known.headers)
		if ratio >= minRatio && ratio > bestRatio {
			best, bestRatio = known.eventType, ratio
		}
	}
	return best
}

func matchRatio(present map[string]struct{}, expected []string) float64 {
	matched := 0
	for _, h := range expected {
		if _, ok := present[strings.ToLower(h)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(expected))
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}
