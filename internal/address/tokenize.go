package address

import "strings"

// prefixes are checked in order; the first match wins.
var prefixes = []string{"г ", "р-н ", "ул ", "д ", "мкр ", "пер ", "пр-кт ", "наб "}

const streetPrefix = "ул "

// DefaultSkipSegments lists the country and region names that appear in
// nearly every address of the served area and carry no search value.
func DefaultSkipSegments() []string {
	return []string{"Россия", "Краснодарский край"}
}

// NormalizeAddressForSearch splits a normalized address into fragments that
// can be matched against differently formatted stored addresses, using the
// default skip list.
func NormalizeAddressForSearch(text string) []string {
	return tokenize(text, DefaultSkipSegments())
}

func tokenize(text string, skip []string) []string {
	tokens := []string{}
	if text == "" {
		return tokens
	}
	for _, raw := range strings.Split(text, ",") {
		segment := strings.TrimSpace(raw)
		if segment == "" || containsAny(segment, skip) {
			continue
		}
		matched := false
		for _, prefix := range prefixes {
			if !strings.HasPrefix(segment, prefix) {
				continue
			}
			matched = true
			if name := strings.TrimSpace(strings.TrimPrefix(segment, prefix)); name != "" {
				tokens = append(tokens, name)
			}
			if prefix == streetPrefix {
				tokens = append(tokens, segment)
			}
			break
		}
		if !matched {
			tokens = append(tokens, segment)
		}
	}
	return tokens
}

func containsAny(segment string, names []string) bool {
	for _, name := range names {
		if name != "" && strings.Contains(segment, name) {
			return true
		}
	}
	return false
}
