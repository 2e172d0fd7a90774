// Package contact turns heterogeneous contact source records into model.Contact
// and talks to the contact source over HTTP.
package contact

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/callcenter/dialer/internal/model"
)

var (
	idKeys     = []string{"id", "_id", "contact_id", "contactId", "uuid", "lead_id", "external_id"}
	nameKeys   = []string{"name", "nome", "full_name", "fullName", "contact_name"}
	numberKeys = []string{"number", "phone", "telefone", "msisdn", "mobile", "celular", "phone_number", "destination", "to", "dial"}

	countryKeys = []string{"ddi", "country_code"}
	areaKeys    = []string{"ddd", "area_code"}
	localKeys   = []string{"numero", "local_number", "line"}

	nestedKeys = []string{"contact", "data"}
)

// Normalize maps a raw record onto the canonical contact. It never fails:
// a record without a number yields an empty Number, and a record without an
// id gets one derived from the number or generated.
func Normalize(raw map[string]any) model.Contact {
	scopes := scopesOf(raw)

	number := cleanNumber(first(scopes, numberKeys))
	if number == "" {
		number = composite(scopes)
	}

	name := first(scopes, nameKeys)
	if name == "" {
		fn := first(scopes, []string{"first_name", "firstName"})
		ln := first(scopes, []string{"last_name", "lastName"})
		name = strings.TrimSpace(fn + " " + ln)
	}
	if name == "" {
		name = number
	}

	id := first(scopes, idKeys)
	if id == "" {
		if digits := strings.TrimPrefix(number, "+"); digits != "" {
			id = "num-" + digits
		} else {
			id = model.MustGenerateID(model.IDTypeContact)
		}
	}

	return model.Contact{ID: id, Name: name, Number: number, Raw: raw}
}

// NormalizeAll normalizes every object in a decoded JSON array, skipping
// elements that are not objects.
func NormalizeAll(items []any) []model.Contact {
	out := make([]model.Contact, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, Normalize(m))
		}
	}
	return out
}

// scopesOf returns the record followed by its nested contact/data objects.
func scopesOf(raw map[string]any) []map[string]any {
	scopes := []map[string]any{raw}
	for _, k := range nestedKeys {
		if m, ok := raw[k].(map[string]any); ok {
			scopes = append(scopes, m)
		}
	}
	return scopes
}

func first(scopes []map[string]any, keys []string) string {
	for _, scope := range scopes {
		for _, k := range keys {
			if s := stringify(scope[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

func composite(scopes []map[string]any) string {
	local := cleanNumber(first(scopes, localKeys))
	if local == "" {
		return ""
	}
	area := strings.TrimPrefix(cleanNumber(first(scopes, areaKeys)), "+")
	country := strings.TrimPrefix(cleanNumber(first(scopes, countryKeys)), "+")
	local = strings.TrimPrefix(local, "+")
	if country != "" {
		return "+" + country + area + local
	}
	return area + local
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// cleanNumber keeps digits and a single leading '+'.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
