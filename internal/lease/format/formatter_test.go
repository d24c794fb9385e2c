package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	date := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	number, err := Format("BL", date, 7)
	require.NoError(t, err)
	assert.Equal(t, "BL-240501-0007", number)

	number, err = Format("CKP01", date, 9999)
	require.NoError(t, err)
	assert.Equal(t, "CKP01-240501-9999", number)
}

func TestFormatRejectsOutOfRangeCounters(t *testing.T) {
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := Format("BL", date, 0)
	assert.Error(t, err)

	_, err = Format("BL", date, 10000)
	assert.Error(t, err)
}

func TestPrefixNormalizesOutletCode(t *testing.T) {
	date := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "BL-241231-", Prefix(" bl ", date))
}

func TestParse(t *testing.T) {
	parsed, err := Parse("BL-240501-0042")
	require.NoError(t, err)
	assert.Equal(t, "BL", parsed.OutletCode)
	assert.Equal(t, "240501", parsed.DateToken)
	assert.Equal(t, 42, parsed.Counter)
}

func TestParseRejectsMalformedNumbers(t *testing.T) {
	cases := []string{
		"",
		"BL-240501",
		"bl-240501-0042",
		"B-240501-0042",
		"BL-240501-042",
		"BL-240501-00042",
		"BL-241301-0042",
		"BL-240501-0000",
	}
	for _, number := range cases {
		_, err := Parse(number)
		assert.Error(t, err, number)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	date := time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC)
	number, err := Format("SBY02", date, 123)
	require.NoError(t, err)

	parsed, err := Parse(number)
	require.NoError(t, err)
	assert.Equal(t, "SBY02", parsed.OutletCode)
	assert.Equal(t, DateToken(date), parsed.DateToken)
	assert.Equal(t, 123, parsed.Counter)
}
