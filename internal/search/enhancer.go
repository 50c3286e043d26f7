// Package search turns free-text queries into ranked frame results.
package search

import "strings"

// Threshold tiers. Specific small objects get a strict threshold to suppress
// false positives; generic scene terms get a loose one to preserve recall.
const (
	ThresholdSpecific = 0.32
	ThresholdGeneric  = 0.22
	DefaultThreshold  = 0.25
)

type enhanceRule struct {
	term      string
	phrase    string
	threshold float64
}

// enhanceRules is checked in order: exact match over the whole table first,
// then substring match. Order is fixed so first-match wins reproducibly.
var enhanceRules = []enhanceRule{
	// Specific small objects.
	{"stop sign", "a red octagonal stop sign at a road intersection", ThresholdSpecific},
	{"traffic light", "a traffic light showing a signal above the road", ThresholdSpecific},
	{"speed limit", "a speed limit sign posted beside the road", ThresholdSpecific},
	{"license plate", "a vehicle license plate visible on a car", ThresholdSpecific},
	{"traffic cone", "an orange traffic cone marking road construction", ThresholdSpecific},
	{"crosswalk", "a pedestrian crosswalk with white stripes painted on the road", ThresholdSpecific},
	{"brake light", "red brake lights of a vehicle ahead on the road", ThresholdSpecific},

	// Road users.
	{"pedestrian", "a pedestrian walking near or across the road", DefaultThreshold},
	{"cyclist", "a person riding a bicycle on or beside the road", DefaultThreshold},
	{"motorcycle", "a motorcycle riding in traffic on the road", DefaultThreshold},
	{"truck", "a large truck driving on the road", DefaultThreshold},
	{"bus", "a bus driving or stopped on the road", DefaultThreshold},
	{"emergency", "an emergency vehicle with flashing lights on the road", DefaultThreshold},

	// Generic scenes.
	{"intersection", "a road intersection with crossing traffic", ThresholdGeneric},
	{"highway", "a multi-lane highway with moving traffic", ThresholdGeneric},
	{"tunnel", "the inside of a road tunnel with artificial lighting", ThresholdGeneric},
	{"bridge", "a road crossing over a bridge", ThresholdGeneric},
	{"parking", "a parking lot or parked cars beside the road", ThresholdGeneric},
	{"construction", "a road construction zone with equipment and barriers", ThresholdGeneric},
	{"rain", "a road scene in rainy weather with wet pavement", ThresholdGeneric},
	{"snow", "a road scene in snowy weather with snow on the ground", ThresholdGeneric},
	{"night", "a road scene at night with headlights and street lighting", ThresholdGeneric},
	{"traffic", "dense road traffic with many vehicles", ThresholdGeneric},
}

// Enhance rewrites a raw query into a provider-friendly descriptive phrase
// and selects the similarity threshold for it. Deterministic and pure: the
// same input always yields the same output.
func Enhance(raw string) (string, float64) {
	q := strings.ToLower(strings.TrimSpace(raw))
	if q == "" {
		return raw, DefaultThreshold
	}

	for _, r := range enhanceRules {
		if q == r.term {
			return r.phrase, r.threshold
		}
	}
	for _, r := range enhanceRules {
		if strings.Contains(q, r.term) {
			return r.phrase, r.threshold
		}
	}
	return "a driving scene showing " + q, DefaultThreshold
}
