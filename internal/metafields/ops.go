package metafields

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fraudpop/fraudpop/internal/risk"
)

// WriteOp is one metafield write, shaped like MetafieldsSetInput.
type WriteOp struct {
	OwnerID   string `json:"ownerId"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// ValidationError lists problems found in caller-supplied ops.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "metafields: invalid input: " + strings.Join(e.Problems, "; ")
}

// Validate checks that every op is addressable and that ops in this app's
// namespace carry the catalog type for their key.
func Validate(ops []WriteOp) error {
	var problems []string
	for i, op := range ops {
		switch {
		case op.OwnerID == "":
			problems = append(problems, fmt.Sprintf("metafields[%d]: ownerId is required", i))
		case op.Key == "":
			problems = append(problems, fmt.Sprintf("metafields[%d]: key is required", i))
		case op.Type == "":
			problems = append(problems, fmt.Sprintf("metafields[%d]: type is required", i))
		}
		if op.Namespace != Namespace {
			continue
		}
		if d, ok := Lookup(op.Key); ok && op.Type != "" && d.Type != op.Type {
			problems = append(problems, fmt.Sprintf("metafields[%d]: %s must be %s, got %s", i, op.Key, d.Type, op.Type))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Ops renders the set fields of p as write ops for ownerID, in catalog order.
func Ops(ownerID string, p risk.Patch) []WriteOp {
	var ops []WriteOp
	add := func(key, value string) {
		d, _ := Lookup(key)
		ops = append(ops, WriteOp{OwnerID: ownerID, Namespace: Namespace, Key: key, Type: d.Type, Value: value})
	}

	if p.Score != nil {
		add(risk.KeyScore, strconv.Itoa(*p.Score))
	}
	if p.Verdict != nil {
		add(risk.KeyVerdict, string(*p.Verdict))
	}
	if p.Reasons != nil {
		reasons := *p.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		b, _ := json.Marshal(reasons)
		add(risk.KeyReasons, string(b))
	}
	if p.EvidenceRef != nil {
		add(risk.KeyEvidenceRef, *p.EvidenceRef)
	}
	if p.EngineVersion != nil {
		add(risk.KeyEngineVersion, *p.EngineVersion)
	}
	if p.ScoredAt != nil {
		add(risk.KeyScoredAt, formatTime(*p.ScoredAt))
	}
	if p.DeviceSeenCount != nil {
		add(risk.KeyDeviceSeenCount, strconv.Itoa(*p.DeviceSeenCount))
	}
	if p.VaultHits != nil {
		add(risk.KeyVaultHits, strconv.Itoa(*p.VaultHits))
	}
	if p.FeedbackLabel != nil {
		add(risk.KeyFeedbackLabel, *p.FeedbackLabel)
	}
	if p.FeedbackNote != nil {
		add(risk.KeyFeedbackNote, *p.FeedbackNote)
	}
	if p.FeedbackNextCheckAt != nil {
		add(risk.KeyFeedbackNextCheckAt, formatTime(*p.FeedbackNextCheckAt))
	}
	return ops
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
