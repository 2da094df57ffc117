package risk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// maxNesting bounds how many times a JSON string holding JSON is unwrapped.
const maxNesting = 2

// blobAliases maps accepted JSON object keys onto metafield keys. Primary
// names win over aliases when both are present.
var blobAliases = map[string]struct {
	key     string
	primary bool
}{
	"score":                  {KeyScore, true},
	"risk_score":             {KeyScore, false},
	"verdict":                {KeyVerdict, true},
	"risk_verdict":           {KeyVerdict, false},
	"reasons":                {KeyReasons, true},
	"risk_reasons":           {KeyReasons, false},
	"evidenceRef":            {KeyEvidenceRef, true},
	"evidence_ref":           {KeyEvidenceRef, false},
	"engineVersion":          {KeyEngineVersion, true},
	"version":                {KeyEngineVersion, false},
	"scoredAt":               {KeyScoredAt, true},
	"scored_at":              {KeyScoredAt, false},
	"deviceSeenCount":        {KeyDeviceSeenCount, true},
	"device_seen_count":      {KeyDeviceSeenCount, false},
	"vaultHits":              {KeyVaultHits, true},
	"vault_hits":             {KeyVaultHits, false},
	"feedbackLabel":          {KeyFeedbackLabel, true},
	"feedback_label":         {KeyFeedbackLabel, false},
	"feedbackNote":           {KeyFeedbackNote, true},
	"feedback_note":          {KeyFeedbackNote, false},
	"feedbackNextCheckAt":    {KeyFeedbackNextCheckAt, true},
	"feedback_next_check_at": {KeyFeedbackNextCheckAt, false},
}

// Decoder turns loosely typed risk payloads into Records.
type Decoder struct {
	unknown Verdict
	now     func() time.Time
}

// NewDecoder returns a decoder that maps unrecognized verdict tokens to
// unknown. Invalid values fall back to VerdictHigh.
func NewDecoder(unknown Verdict) *Decoder {
	if !unknown.Valid() {
		unknown = VerdictHigh
	}
	return &Decoder{unknown: unknown, now: time.Now}
}

// WithClock overrides the clock used to default ScoredAt.
func (d *Decoder) WithClock(now func() time.Time) *Decoder {
	cp := *d
	cp.now = now
	return &cp
}

// UnknownVerdict is the verdict assigned to unrecognized tokens.
func (d *Decoder) UnknownVerdict() Verdict { return d.unknown }

var defaultDecoder = NewDecoder(VerdictHigh)

// Decode decodes a JSON object with the default decoder.
func Decode(raw []byte) (Record, Warnings) { return defaultDecoder.Decode(raw) }

// DecodeFields decodes per-key metafield values with the default decoder.
func DecodeFields(values map[string]string) (Record, Warnings) {
	return defaultDecoder.DecodeFields(values)
}

// Decode decodes a JSON object carrying risk fields. Empty input or JSON null
// yields the default record with no warnings.
func (d *Decoder) Decode(raw []byte) (Record, Warnings) {
	return d.decode(raw, 0)
}

func (d *Decoder) decode(raw []byte, depth int) (Record, Warnings) {
	rec := Default(d.now())
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return rec, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		var inner string
		if depth < maxNesting && json.Unmarshal(trimmed, &inner) == nil {
			return d.decode([]byte(inner), depth+1)
		}
		return rec, Warnings{{Code: CodeMalformedJSON, Detail: truncate(err.Error())}}
	}

	fields := make(map[string]json.RawMessage, len(obj))
	primary := make(map[string]bool, len(obj))
	for name, v := range obj {
		alias, ok := blobAliases[name]
		if !ok {
			continue
		}
		if _, seen := fields[alias.key]; seen && (primary[alias.key] || !alias.primary) {
			continue
		}
		fields[alias.key] = v
		primary[alias.key] = alias.primary
	}

	var warns Warnings
	d.apply(&rec, fields, &warns)
	return rec, warns
}

// DecodeFields decodes metafield values keyed by metafield key, as read from
// an order. Unknown keys are ignored.
func (d *Decoder) DecodeFields(values map[string]string) (Record, Warnings) {
	rec := Default(d.now())
	fields := make(map[string]json.RawMessage, len(values))
	for key, v := range values {
		if !isKey(key) {
			continue
		}
		if key == KeyReasons {
			if strings.TrimSpace(v) == "" {
				continue
			}
			fields[key] = json.RawMessage(v)
			continue
		}
		b, _ := json.Marshal(v)
		fields[key] = b
	}

	var warns Warnings
	d.apply(&rec, fields, &warns)
	return rec, warns
}

func (d *Decoder) apply(rec *Record, fields map[string]json.RawMessage, warns *Warnings) {
	warn := func(field, code, detail string) {
		*warns = append(*warns, Warning{Field: field, Code: code, Detail: detail})
	}

	if raw, ok := present(fields, KeyScore); ok {
		n, code := parseInt(raw)
		switch {
		case code != "":
			warn(KeyScore, code, truncate(string(raw)))
		case n < 0 || n > MaxScore:
			warn(KeyScore, CodeOutOfRange, strconv.Itoa(n))
		default:
			rec.Score = n
			rec.Present |= HasScore
		}
	}

	if raw, ok := present(fields, KeyVerdict); ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			warn(KeyVerdict, CodeWrongType, truncate(string(raw)))
			rec.Verdict = d.unknown
			rec.Present |= HasVerdict
		} else if strings.TrimSpace(s) != "" {
			if v, known := LookupVerdict(s); known {
				rec.Verdict = v
			} else {
				warn(KeyVerdict, CodeUnknownToken, truncate(s))
				rec.Verdict = d.unknown
			}
			rec.Present |= HasVerdict
		}
	}

	if raw, ok := present(fields, KeyReasons); ok {
		reasons, ws := parseReasons(raw)
		*warns = append(*warns, ws...)
		if reasons != nil {
			rec.Reasons = reasons
			rec.Present |= HasReasons
		}
	}

	d.applyString(fields, KeyEvidenceRef, &rec.EvidenceRef, &rec.Present, HasEvidenceRef, warn)
	d.applyString(fields, KeyEngineVersion, &rec.EngineVersion, &rec.Present, HasEngineVersion, warn)
	d.applyString(fields, KeyFeedbackLabel, &rec.FeedbackLabel, &rec.Present, HasFeedbackLabel, warn)
	d.applyString(fields, KeyFeedbackNote, &rec.FeedbackNote, &rec.Present, HasFeedbackNote, warn)

	if t, ok := d.applyTime(fields, KeyScoredAt, warn); ok {
		rec.ScoredAt = t
		rec.Present |= HasScoredAt
	}
	if t, ok := d.applyTime(fields, KeyFeedbackNextCheckAt, warn); ok {
		rec.FeedbackNextCheckAt = &t
		rec.Present |= HasFeedbackNextCheckAt
	}

	if n, ok := d.applyCount(fields, KeyDeviceSeenCount, warn); ok {
		rec.DeviceSeenCount = &n
		rec.Present |= HasDeviceSeenCount
	}
	if n, ok := d.applyCount(fields, KeyVaultHits, warn); ok {
		rec.VaultHits = &n
		rec.Present |= HasVaultHits
	}
}

func (d *Decoder) applyString(fields map[string]json.RawMessage, key string, dst *string, set *FieldSet, flag FieldSet, warn func(string, string, string)) {
	raw, ok := present(fields, key)
	if !ok {
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			warn(key, CodeWrongType, truncate(string(raw)))
			return
		}
		s = n.String()
	}
	if s == "" {
		return
	}
	*dst = s
	*set |= flag
}

func (d *Decoder) applyTime(fields map[string]json.RawMessage, key string, warn func(string, string, string)) (time.Time, bool) {
	raw, ok := present(fields, key)
	if !ok {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		warn(key, CodeWrongType, truncate(string(raw)))
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := parseTime(s)
	if err != nil {
		warn(key, CodeBadTimestamp, truncate(s))
		return time.Time{}, false
	}
	return t, true
}

func (d *Decoder) applyCount(fields map[string]json.RawMessage, key string, warn func(string, string, string)) (int, bool) {
	raw, ok := present(fields, key)
	if !ok {
		return 0, false
	}
	n, code := parseInt(raw)
	if code != "" {
		warn(key, code, truncate(string(raw)))
		return 0, false
	}
	if n < 0 {
		warn(key, CodeOutOfRange, strconv.Itoa(n))
		return 0, false
	}
	return n, true
}

// present returns the raw value for key unless it is absent or JSON null.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

// parseInt accepts a JSON number or a numeric string holding an integral value.
func parseInt(raw json.RawMessage) (int, string) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, CodeWrongType
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, CodeWrongType
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, CodeNotInteger
	}
	if math.Abs(f) > 1<<31 {
		return 0, CodeOutOfRange
	}
	return int(f), ""
}

// parseReasons accepts an array of strings, a JSON string holding such an
// array, or a single bare string. Non-string elements are skipped.
func parseReasons(raw json.RawMessage) ([]string, Warnings) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			s = strings.TrimSpace(s)
			if s == "" {
				return []string{}, nil
			}
			if strings.HasPrefix(s, "[") {
				return parseReasons(json.RawMessage(s))
			}
			return []string{s}, nil
		}
		return nil, Warnings{{Field: KeyReasons, Code: CodeMalformedJSON, Detail: truncate(string(raw))}}
	}

	reasons := make([]string, 0, len(items))
	var warns Warnings
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			reasons = append(reasons, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			reasons = append(reasons, n.String())
			continue
		}
		warns = append(warns, Warning{Field: KeyReasons, Code: CodeWrongType, Detail: fmt.Sprintf("element %d", i)})
	}
	return reasons, warns
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func isKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// truncate bounds warning details to 120 bytes without splitting a character.
func truncate(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
