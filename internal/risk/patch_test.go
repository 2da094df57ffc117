package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatch_IsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())

	n := 1
	assert.False(t, Patch{VaultHits: &n}.IsEmpty())
}

func TestScoringPatch_WritesCoreFieldsOnly(t *testing.T) {
	rec, _ := testDecoder(VerdictHigh).Decode([]byte(`{"score":70,"verdict":"amber"}`))

	p := ScoringPatch(rec)
	require.NotNil(t, p.Score)
	assert.Equal(t, 70, *p.Score)
	require.NotNil(t, p.Verdict)
	assert.Equal(t, VerdictMedium, *p.Verdict)
	require.NotNil(t, p.ScoredAt)
	assert.Equal(t, fixedNow, *p.ScoredAt)

	assert.Nil(t, p.Reasons)
	assert.Nil(t, p.EvidenceRef)
	assert.Nil(t, p.EngineVersion)
	assert.Nil(t, p.DeviceSeenCount)
	assert.Nil(t, p.FeedbackLabel)
	assert.Nil(t, p.FeedbackNote)
	assert.Nil(t, p.FeedbackNextCheckAt)
}

func TestScoringPatch_LeavesAbsentScoreUntouched(t *testing.T) {
	rec, warns := testDecoder(VerdictHigh).Decode([]byte(`{"verdict":"high","reasons":[]}`))
	require.Empty(t, warns)

	p := ScoringPatch(rec)
	assert.Nil(t, p.Score)
	require.NotNil(t, p.Verdict)
	assert.Equal(t, VerdictHigh, *p.Verdict)
	require.NotNil(t, p.Reasons)
	assert.Empty(t, *p.Reasons)
	require.NotNil(t, p.ScoredAt)
}

func TestScoringPatch_DropsInvalidScore(t *testing.T) {
	rec, warns := testDecoder(VerdictHigh).Decode([]byte(`{"score":250,"verdict":"low"}`))
	require.True(t, warns.Has(CodeOutOfRange))

	p := ScoringPatch(rec)
	assert.Nil(t, p.Score)
	require.NotNil(t, p.Verdict)
	assert.Equal(t, VerdictLow, *p.Verdict)
}

func TestScoringPatch_IgnoresFeedbackInPayload(t *testing.T) {
	rec, _ := testDecoder(VerdictHigh).Decode([]byte(`{"score":5,"evidenceRef":"ev","feedbackLabel":"safe"}`))
	p := ScoringPatch(rec)
	require.NotNil(t, p.EvidenceRef)
	assert.Equal(t, "ev", *p.EvidenceRef)
	assert.Nil(t, p.FeedbackLabel)
}

func TestFeedbackPatch(t *testing.T) {
	next := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	p := FeedbackPatch(FeedbackSafe, "", next)
	assert.Equal(t, FeedbackSafe, *p.FeedbackLabel)
	assert.Nil(t, p.FeedbackNote)
	assert.Equal(t, next, *p.FeedbackNextCheckAt)
	assert.Nil(t, p.Score)

	p = FeedbackPatch(FeedbackCaution, "watch this one", next)
	require.NotNil(t, p.FeedbackNote)
	assert.Equal(t, "watch this one", *p.FeedbackNote)

	assert.True(t, ValidFeedbackLabel("safe"))
	assert.False(t, ValidFeedbackLabel("fraud"))
}
