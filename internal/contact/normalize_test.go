package contact

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callcenter/dialer/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want model.Contact
	}{
		{
			name: "canonical",
			raw:  map[string]any{"id": "c1", "name": "Ana", "number": "+55 (11) 98765-4321"},
			want: model.Contact{ID: "c1", Name: "Ana", Number: "+5511987654321"},
		},
		{
			name: "portuguese keys",
			raw:  map[string]any{"_id": "abc", "nome": "Bruno", "telefone": "11.3333.4444"},
			want: model.Contact{ID: "abc", Name: "Bruno", Number: "1133334444"},
		},
		{
			name: "numeric id and phone",
			raw:  map[string]any{"contact_id": float64(42), "phone": float64(5511999990000)},
			want: model.Contact{ID: "42", Name: "5511999990000", Number: "5511999990000"},
		},
		{
			name: "first and last name",
			raw:  map[string]any{"lead_id": "L9", "first_name": "Carla", "last_name": "Dias", "mobile": "999"},
			want: model.Contact{ID: "L9", Name: "Carla Dias", Number: "999"},
		},
		{
			name: "composite number",
			raw:  map[string]any{"id": "x", "ddi": "55", "ddd": "21", "numero": "2555-0000"},
			want: model.Contact{ID: "x", Name: "+552125550000", Number: "+552125550000"},
		},
		{
			name: "composite without country",
			raw:  map[string]any{"id": "y", "area_code": "21", "local_number": "25550000"},
			want: model.Contact{ID: "y", Name: "2125550000", Number: "2125550000"},
		},
		{
			name: "nested contact",
			raw:  map[string]any{"contact": map[string]any{"uuid": "u1", "full_name": "Davi", "msisdn": "123"}},
			want: model.Contact{ID: "u1", Name: "Davi", Number: "123"},
		},
		{
			name: "id derived from number",
			raw:  map[string]any{"destination": "+1 555 0100"},
			want: model.Contact{ID: "num-15550100", Name: "+15550100", Number: "+15550100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			assert.Equal(t, tt.want.ID, got.ID)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Number, got.Number)
			assert.Equal(t, tt.raw, got.Raw)
		})
	}
}

func TestNormalize_NoNumberNoID(t *testing.T) {
	got := Normalize(map[string]any{"note": "nothing useful"})
	assert.Empty(t, got.Number)
	assert.True(t, strings.HasPrefix(got.ID, "gen-"), "got %q", got.ID)
	assert.True(t, model.ValidateID(got.ID))
}

func TestNormalize_JSONNumberKeepsPrecision(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"id": 9007199254740993, "phone": 5511987654321}`))
	dec.UseNumber()
	var raw map[string]any
	require.NoError(t, dec.Decode(&raw))

	got := Normalize(raw)
	assert.Equal(t, "9007199254740993", got.ID)
	assert.Equal(t, "5511987654321", got.Number)
}

func TestNormalizeAll_SkipsNonObjects(t *testing.T) {
	got := NormalizeAll([]any{map[string]any{"id": "a", "number": "1"}, "junk", nil, map[string]any{"id": "b", "number": "2"}})
	assert.Equal(t, []string{"a", "b"}, model.ContactIDs(got))
}

func TestCleanNumber(t *testing.T) {
	assert.Equal(t, "+5511", cleanNumber(" +55-11 "))
	assert.Equal(t, "5511", cleanNumber("55+11"))
	assert.Equal(t, "", cleanNumber("+"))
	assert.Equal(t, "", cleanNumber("abc"))
}
