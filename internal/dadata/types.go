package dadata

import "encoding/json"

// Bound restricts the address hierarchy levels a suggestion may stop at.
type Bound string

const (
	BoundCountry    Bound = "country"
	BoundRegion     Bound = "region"
	BoundArea       Bound = "area"
	BoundCity       Bound = "city"
	BoundSettlement Bound = "settlement"
	BoundStreet     Bound = "street"
	BoundHouse      Bound = "house"
)

type boundValue struct {
	Value Bound `json:"value"`
}

// Location narrows suggestions to an administrative unit. Only non-empty
// fields are sent.
type Location struct {
	RegionFiasID     string `json:"region_fias_id,omitempty"`
	AreaFiasID       string `json:"area_fias_id,omitempty"`
	CityFiasID       string `json:"city_fias_id,omitempty"`
	SettlementFiasID string `json:"settlement_fias_id,omitempty"`
	StreetFiasID     string `json:"street_fias_id,omitempty"`
	KladrID          string `json:"kladr_id,omitempty"`
	Region           string `json:"region,omitempty"`
	Area             string `json:"area,omitempty"`
	City             string `json:"city,omitempty"`
	Settlement       string `json:"settlement,omitempty"`
	Street           string `json:"street,omitempty"`
}

// SuggestRequest is the body of POST /suggest/address.
type SuggestRequest struct {
	Query     string     `json:"query"`
	Count     int        `json:"count,omitempty"`
	Locations []Location `json:"locations,omitempty"`
	FromBound Bound      `json:"-"`
	ToBound   Bound      `json:"-"`
}

// MarshalJSON renders bounds in the {"value": ...} envelope the API expects.
func (r SuggestRequest) MarshalJSON() ([]byte, error) {
	type plain SuggestRequest
	payload := struct {
		plain
		FromBound *boundValue `json:"from_bound,omitempty"`
		ToBound   *boundValue `json:"to_bound,omitempty"`
	}{plain: plain(r)}
	if r.FromBound != "" {
		payload.FromBound = &boundValue{Value: r.FromBound}
	}
	if r.ToBound != "" {
		payload.ToBound = &boundValue{Value: r.ToBound}
	}
	return json.Marshal(payload)
}

// RawSuggestion keeps the data object undecoded so a single malformed item
// does not fail the whole response.
type RawSuggestion struct {
	Value             string          `json:"value"`
	UnrestrictedValue string          `json:"unrestricted_value"`
	Data              json.RawMessage `json:"data"`
}

type suggestResponse struct {
	Suggestions []RawSuggestion `json:"suggestions"`
}

// AddressData is the subset of the suggestion data object the service uses.
// The API sends null for unknown parts; they decode as empty strings.
type AddressData struct {
	PostalCode         string `json:"postal_code"`
	Country            string `json:"country"`
	Region             string `json:"region"`
	RegionWithType     string `json:"region_with_type"`
	RegionFiasID       string `json:"region_fias_id"`
	Area               string `json:"area"`
	AreaWithType       string `json:"area_with_type"`
	City               string `json:"city"`
	CityWithType       string `json:"city_with_type"`
	Settlement         string `json:"settlement"`
	SettlementWithType string `json:"settlement_with_type"`
	Street             string `json:"street"`
	StreetWithType     string `json:"street_with_type"`
	House              string `json:"house"`
	HouseType          string `json:"house_type"`
	Block              string `json:"block"`
	BlockType          string `json:"block_type"`
	Flat               string `json:"flat"`
	FlatType           string `json:"flat_type"`
	FiasID             string `json:"fias_id"`
	KladrID            string `json:"kladr_id"`
	GeoLat             string `json:"geo_lat"`
	GeoLon             string `json:"geo_lon"`
}

// DecodeData unmarshals the data object of a suggestion.
func (s RawSuggestion) DecodeData() (AddressData, error) {
	var data AddressData
	if len(s.Data) == 0 || string(s.Data) == "null" {
		return data, nil
	}
	if err := json.Unmarshal(s.Data, &data); err != nil {
		return AddressData{}, err
	}
	return data, nil
}
