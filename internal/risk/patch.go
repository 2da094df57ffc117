package risk

import "time"

// Patch is a partial record. Nil fields are left untouched on the order.
type Patch struct {
	Score               *int       `json:"score,omitempty"`
	Verdict             *Verdict   `json:"verdict,omitempty"`
	Reasons             *[]string  `json:"reasons,omitempty"`
	EvidenceRef         *string    `json:"evidenceRef,omitempty"`
	EngineVersion       *string    `json:"engineVersion,omitempty"`
	ScoredAt            *time.Time `json:"scoredAt,omitempty"`
	DeviceSeenCount     *int       `json:"deviceSeenCount,omitempty"`
	VaultHits           *int       `json:"vaultHits,omitempty"`
	FeedbackLabel       *string    `json:"feedbackLabel,omitempty"`
	FeedbackNote        *string    `json:"feedbackNote,omitempty"`
	FeedbackNextCheckAt *time.Time `json:"feedbackNextCheckAt,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p Patch) IsEmpty() bool {
	return p.Score == nil && p.Verdict == nil && p.Reasons == nil &&
		p.EvidenceRef == nil && p.EngineVersion == nil && p.ScoredAt == nil &&
		p.DeviceSeenCount == nil && p.VaultHits == nil &&
		p.FeedbackLabel == nil && p.FeedbackNote == nil && p.FeedbackNextCheckAt == nil
}

// ScoringPatch builds the patch written after a rescore. Only fields the
// scorer supplied are written, except scoredAt which defaults to the
// ingestion time. Feedback fields are never touched.
func ScoringPatch(r Record) Patch {
	scoredAt := r.ScoredAt
	p := Patch{ScoredAt: &scoredAt}

	if r.Present.Has(HasScore) {
		score := r.Score
		p.Score = &score
	}
	if r.Present.Has(HasVerdict) {
		verdict := r.Verdict
		if !verdict.Valid() {
			verdict = VerdictLow
		}
		p.Verdict = &verdict
	}
	if r.Present.Has(HasReasons) {
		reasons := r.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		p.Reasons = &reasons
	}
	if r.Present.Has(HasEvidenceRef) {
		ref := r.EvidenceRef
		p.EvidenceRef = &ref
	}
	if r.Present.Has(HasEngineVersion) {
		v := r.EngineVersion
		p.EngineVersion = &v
	}
	if r.Present.Has(HasDeviceSeenCount) && r.DeviceSeenCount != nil {
		n := *r.DeviceSeenCount
		p.DeviceSeenCount = &n
	}
	if r.Present.Has(HasVaultHits) && r.VaultHits != nil {
		n := *r.VaultHits
		p.VaultHits = &n
	}
	return p
}

// Feedback labels a merchant may record.
const (
	FeedbackSafe    = "safe"
	FeedbackCaution = "caution"
)

// ValidFeedbackLabel reports whether label is a known feedback label.
func ValidFeedbackLabel(label string) bool {
	return label == FeedbackSafe || label == FeedbackCaution
}

// FeedbackPatch builds the patch for a merchant feedback action. An empty
// note is not written.
func FeedbackPatch(label, note string, nextCheckAt time.Time) Patch {
	p := Patch{
		FeedbackLabel:       &label,
		FeedbackNextCheckAt: &nextCheckAt,
	}
	if note != "" {
		p.FeedbackNote = &note
	}
	return p
}
