package address

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/l0p7/addrnorm/internal/dadata"
)

// classify picks the most specific populated level:
// street > district (area) > settlement > city > region > address.
func classify(data dadata.AddressData) Kind {
	switch {
	case data.Street != "":
		return KindStreet
	case data.Area != "":
		return KindDistrict
	case data.Settlement != "":
		return KindSettlement
	case data.City != "":
		return KindCity
	case data.Region != "":
		return KindRegion
	default:
		return KindAddress
	}
}

func parseSuggestion(raw dadata.RawSuggestion) (Suggestion, error) {
	data, err := raw.DecodeData()
	if err != nil {
		return Suggestion{}, fmt.Errorf("address: decode data: %w", err)
	}
	lat, err := parseCoordinate(data.GeoLat)
	if err != nil {
		return Suggestion{}, fmt.Errorf("address: geo_lat: %w", err)
	}
	lon, err := parseCoordinate(data.GeoLon)
	if err != nil {
		return Suggestion{}, fmt.Errorf("address: geo_lon: %w", err)
	}
	return Suggestion{
		Text:   raw.Value,
		Type:   classify(data),
		Source: SourceExternalAPI,
		Components: Components{
			City:               data.City,
			CityWithType:       data.CityWithType,
			Settlement:         data.Settlement,
			SettlementWithType: data.SettlementWithType,
			Street:             data.Street,
			StreetWithType:     data.StreetWithType,
			Area:               data.Area,
			AreaWithType:       data.AreaWithType,
			Region:             data.Region,
			RegionWithType:     data.RegionWithType,
			GeoLat:             lat,
			GeoLon:             lon,
			PostalCode:         data.PostalCode,
			FiasID:             data.FiasID,
			KladrID:            data.KladrID,
			House:              data.House,
			HouseType:          data.HouseType,
			Block:              data.Block,
			BlockType:          data.BlockType,
			Flat:               data.Flat,
			FlatType:           data.FlatType,
		},
	}, nil
}

func parseCoordinate(value string) (*float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
