// Package risk defines the canonical risk record attached to orders and the
// tolerant decoder that turns stored or submitted payloads into it.
//
// Risk data is advisory. Decoding never fails: malformed input degrades to
// defaults and is reported as Warnings so callers can count it.
package risk

import "time"

// Order metafield keys, namespace "fraudpop". One metafield per field.
const (
	KeyScore               = "risk_score"
	KeyVerdict             = "risk_verdict"
	KeyReasons             = "risk_reasons"
	KeyEvidenceRef         = "evidence_ref"
	KeyEngineVersion       = "version"
	KeyScoredAt            = "scored_at"
	KeyDeviceSeenCount     = "device_seen_count"
	KeyVaultHits           = "vault_hits"
	KeyFeedbackLabel       = "feedback_label"
	KeyFeedbackNote        = "feedback_note"
	KeyFeedbackNextCheckAt = "feedback_next_check_at"
)

// Keys lists every order metafield key in write order.
var Keys = []string{
	KeyScore,
	KeyVerdict,
	KeyReasons,
	KeyEvidenceRef,
	KeyEngineVersion,
	KeyScoredAt,
	KeyDeviceSeenCount,
	KeyVaultHits,
	KeyFeedbackLabel,
	KeyFeedbackNote,
	KeyFeedbackNextCheckAt,
}

// MaxScore is the top of the score gauge.
const MaxScore = 100

// FieldSet records which fields were present in decoded input.
type FieldSet uint16

const (
	HasScore FieldSet = 1 << iota
	HasVerdict
	HasReasons
	HasEvidenceRef
	HasEngineVersion
	HasScoredAt
	HasDeviceSeenCount
	HasVaultHits
	HasFeedbackLabel
	HasFeedbackNote
	HasFeedbackNextCheckAt
)

// scoringFields are the fields written by the external scorer.
const scoringFields = HasScore | HasVerdict | HasReasons | HasEvidenceRef |
	HasEngineVersion | HasScoredAt | HasDeviceSeenCount | HasVaultHits

// Has reports whether every field in f is set.
func (s FieldSet) Has(f FieldSet) bool { return s&f == f }

// Record is the canonical risk annotation for one order.
type Record struct {
	Score               int        `json:"score"`
	Verdict             Verdict    `json:"verdict"`
	Reasons             []string   `json:"reasons"`
	EvidenceRef         string     `json:"evidenceRef,omitempty"`
	EngineVersion       string     `json:"engineVersion,omitempty"`
	ScoredAt            time.Time  `json:"scoredAt"`
	DeviceSeenCount     *int       `json:"deviceSeenCount,omitempty"`
	VaultHits           *int       `json:"vaultHits,omitempty"`
	FeedbackLabel       string     `json:"feedbackLabel,omitempty"`
	FeedbackNote        string     `json:"feedbackNote,omitempty"`
	FeedbackNextCheckAt *time.Time `json:"feedbackNextCheckAt,omitempty"`

	// Present holds the fields that were supplied (validly) by the input.
	Present FieldSet `json:"-"`
}

// Default returns the record used for unscored or unreadable orders.
func Default(now time.Time) Record {
	return Record{
		Score:    0,
		Verdict:  VerdictLow,
		Reasons:  []string{},
		ScoredAt: now,
	}
}

// Scored reports whether any scoring field was supplied.
func (r Record) Scored() bool {
	return r.Present&scoringFields != 0
}

// Warning describes one piece of input that was ignored or coerced.
type Warning struct {
	Field  string `json:"field"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Warning codes.
const (
	CodeMalformedJSON = "malformed_json"
	CodeWrongType     = "wrong_type"
	CodeOutOfRange    = "out_of_range"
	CodeNotInteger    = "not_integer"
	CodeUnknownToken  = "unknown_token"
	CodeBadTimestamp  = "bad_timestamp"
)

// Warnings is the list produced by a decode.
type Warnings []Warning

// Has reports whether any warning carries code.
func (w Warnings) Has(code string) bool {
	for _, x := range w {
		if x.Code == code {
			return true
		}
	}
	return false
}

// For returns the warnings concerning field.
func (w Warnings) For(field string) Warnings {
	var out Warnings
	for _, x := range w {
		if x.Field == field {
			out = append(out, x)
		}
	}
	return out
}
