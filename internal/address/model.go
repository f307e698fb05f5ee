package address

// Kind is the semantic address level a suggestion resolves to.
type Kind string

const (
	KindStreet     Kind = "street"
	KindDistrict   Kind = "district"
	KindSettlement Kind = "settlement"
	KindCity       Kind = "city"
	KindRegion     Kind = "region"
	KindAddress    Kind = "address"
)

// SourceExternalAPI marks suggestions that came from the suggestions provider
// rather than the local database.
const SourceExternalAPI = "external-api"

// Components is the structured breakdown of a suggestion. Every field is
// optional: an empty string and a missing value both mean "unknown".
type Components struct {
	City               string   `json:"city,omitempty"`
	CityWithType       string   `json:"city_with_type,omitempty"`
	Settlement         string   `json:"settlement,omitempty"`
	SettlementWithType string   `json:"settlement_with_type,omitempty"`
	Street             string   `json:"street,omitempty"`
	StreetWithType     string   `json:"street_with_type,omitempty"`
	Area               string   `json:"area,omitempty"`
	AreaWithType       string   `json:"area_with_type,omitempty"`
	Region             string   `json:"region,omitempty"`
	RegionWithType     string   `json:"region_with_type,omitempty"`
	GeoLat             *float64 `json:"geo_lat,omitempty"`
	GeoLon             *float64 `json:"geo_lon,omitempty"`
	PostalCode         string   `json:"postal_code,omitempty"`
	FiasID             string   `json:"fias_id,omitempty"`
	KladrID            string   `json:"kladr_id,omitempty"`
	House              string   `json:"house,omitempty"`
	HouseType          string   `json:"house_type,omitempty"`
	Block              string   `json:"block,omitempty"`
	BlockType          string   `json:"block_type,omitempty"`
	Flat               string   `json:"flat,omitempty"`
	FlatType           string   `json:"flat_type,omitempty"`
}

// Suggestion is one normalized candidate.
type Suggestion struct {
	Text       string     `json:"text"`
	Type       Kind       `json:"type"`
	Source     string     `json:"source"`
	Components Components `json:"data"`
}

// cloneSuggestions copies the list including the coordinate pointers so a
// cached entry never shares memory with a caller.
func cloneSuggestions(in []Suggestion) []Suggestion {
	if in == nil {
		return nil
	}
	out := make([]Suggestion, len(in))
	for i, s := range in {
		s.Components.GeoLat = cloneFloat(s.Components.GeoLat)
		s.Components.GeoLon = cloneFloat(s.Components.GeoLon)
		out[i] = s
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Enrichment is the flat field set written onto a property record. District
// joins area and settlement for callers that still expect a single string.
type Enrichment struct {
	City        string   `json:"parsed_city"`
	Area        string   `json:"parsed_area"`
	Settlement  string   `json:"parsed_settlement"`
	Street      string   `json:"parsed_street"`
	House       string   `json:"parsed_house"`
	Block       string   `json:"parsed_block"`
	District    string   `json:"parsed_district"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	FullAddress string   `json:"full_address"`
}

// Outcome distinguishes why a lookup produced what it did. Callers of Suggest
// see only the suggestions; Lookup exposes the outcome for logging, metrics
// and tests.
type Outcome string

const (
	OutcomeDisabled Outcome = "disabled"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
	OutcomeEmpty    Outcome = "empty"
	OutcomeFound    Outcome = "found"
)

// Result is the tagged form of a suggestion lookup.
type Result struct {
	Suggestions []Suggestion
	Outcome     Outcome
	FromCache   bool
}
