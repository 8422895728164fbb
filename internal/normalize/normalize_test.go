package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"plain integer", "12500", 12500},
		{"currency prefix", "€ 12.500,-", 12500},
		{"space separated thousands", "116 200", 116200},
		{"period separated thousands", "116.200", 116200},
		{"narrow no-break space thousands", "116 200", 116200},
		{"no-break space thousands", "116 200", 116200},
		{"comma decimal", "4,5", 4.5},
		{"period decimal", "4.5", 4.5},
		{"embedded in text", "price: 9 990 EUR", 9990},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNumber(tt.text)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseNumberNoDigits(t *testing.T) {
	assert.Nil(t, ParseNumber(""))
	assert.Nil(t, ParseNumber("Prix sur demande"))
	assert.Nil(t, ParseNumber("€ -,-"))
}

func TestParseMileage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"space separated", "116 200 km", 116200},
		{"period separated", "116.200 km", 116200},
		{"narrow no-break space", "116 200 km", 116200},
		{"uppercase unit", "85.000 KM", 85000},
		{"no space before unit", "45000km", 45000},
		{"embedded in details", "Essence 05/2018 116 200 km Boîte manuelle", 116200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMileage(tt.text)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseMileageAbsent(t *testing.T) {
	assert.Nil(t, ParseMileage("Essence 05/2018"))
	assert.Nil(t, ParseMileage(""))
}

func TestParseYear(t *testing.T) {
	got := ParseYear("Essence 05/2018 116 200 km")
	require.NotNil(t, got)
	assert.Equal(t, 2018, *got)

	got = ParseYear("01/2021")
	require.NotNil(t, got)
	assert.Equal(t, 2021, *got)

	assert.Nil(t, ParseYear("116 200 km"))
	assert.Nil(t, ParseYear(""))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "BMW Série 1", CleanText("  BMW   Série \n\t 1  "))
	assert.Equal(t, "a b", CleanText("a b"))
	assert.Equal(t, "", CleanText("   "))
}
