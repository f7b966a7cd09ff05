package ledger

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/decision"

	"github.com/rs/zerolog/log"
)

// UnmarshalJSON decodes one entry field by field so a hand-edited ledger survives
// bad values: numbers may be quoted ("100", "$100", "80%"), and a blank or malformed
// value falls back to its zero value with a warning. Only an entry that is not a
// JSON object fails, which marks the whole file as corrupt.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*e = Entry{}
	var bad []string
	num := func(key string, dst *float64) {
		if raw, ok := fields[key]; ok {
			v, ok := looseFloat(raw)
			if !ok {
				bad = append(bad, key)
			}
			*dst = v
		}
	}
	str := func(key string) string {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			return ""
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			bad = append(bad, key)
		}
		return strings.TrimSpace(v)
	}

	if raw, ok := fields["id"]; ok {
		id, ok := looseInt(raw)
		if !ok {
			bad = append(bad, "id")
		}
		e.ID = id
	}
	e.Direction = decision.Direction(strings.ToLower(str("trade")))
	num("allocation", &e.AllocationUSD)
	num("stoploss", &e.StopLossUSD)
	num("takeprofit", &e.TakeProfitUSD)
	num("sentiment", &e.SentimentPct)
	num("leverage", &e.Leverage)
	e.State = State(strings.ToLower(str("state")))

	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			bad = append(bad, "timestamp")
		}
		e.UpdatedAt = t
	}

	if len(bad) > 0 {
		log.Warn().Int64("id", e.ID).Strs("fields", bad).Msg("⚠️  Ledger entry has unreadable fields, using zero values")
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// looseText strips quotes and the "$", "%" and thousands separators agents and people write
func looseText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	return strings.ReplaceAll(s, ",", "")
}

// looseFloat reports false for values that could not be read; blank and null read as zero
func looseFloat(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, true
	}
	s := looseText(raw)
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func looseInt(raw json.RawMessage) (int64, bool) {
	if isNull(raw) {
		return 0, true
	}
	s := looseText(raw)
	if s == "" {
		return 0, true
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
