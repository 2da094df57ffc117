package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupVerdict_BothVocabularies(t *testing.T) {
	cases := map[string]Verdict{
		"green": VerdictLow, "low": VerdictLow, "SAFE": VerdictLow,
		"warn": VerdictMedium, "amber": VerdictMedium, " Medium ": VerdictMedium,
		"red": VerdictHigh, "high": VerdictHigh, "Critical": VerdictHigh,
	}
	for raw, want := range cases {
		got, ok := LookupVerdict(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"", "purple", "0"} {
		_, ok := LookupVerdict(raw)
		assert.False(t, ok, raw)
	}
}

func TestVerdict_Presentation(t *testing.T) {
	assert.Equal(t, "Low", VerdictLow.Label())
	assert.Equal(t, "Medium", VerdictMedium.Label())
	assert.Equal(t, "High", VerdictHigh.Label())
	assert.Equal(t, "Low", Verdict("bogus").Label())

	assert.Equal(t, "success", VerdictLow.Tone())
	assert.Equal(t, "warning", VerdictMedium.Tone())
	assert.Equal(t, "critical", VerdictHigh.Tone())

	assert.Less(t, VerdictLow.Severity(), VerdictMedium.Severity())
	assert.Less(t, VerdictMedium.Severity(), VerdictHigh.Severity())
	assert.False(t, Verdict("amber").Valid())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, VerdictLow, Classify(0, 60, 80))
	assert.Equal(t, VerdictLow, Classify(59, 60, 80))
	assert.Equal(t, VerdictMedium, Classify(60, 60, 80))
	assert.Equal(t, VerdictMedium, Classify(79, 60, 80))
	assert.Equal(t, VerdictHigh, Classify(80, 60, 80))
	assert.Equal(t, VerdictHigh, Classify(100, 60, 80))
}
