package telephony

import (
	"encoding/json"
	"strconv"
	"strings"

	"crm-telephony/internal/calls"
)

// decodeInsights reads the RingSense insights map. Each insight type may
// arrive as a plain string or as a list of segments carrying text or value.
func decodeInsights(m map[string]json.RawMessage) calls.Insights {
	return calls.Insights{
		Transcript: insightText(m["Transcript"]),
		Summary:    insightText(m["Summary"]),
		Score:      insightScore(m["AIScore"]),
		Highlights: insightList(m["Highlights"]),
		CallNotes:  insightText(m["CallNotes"]),
	}
}

type insightSegment struct {
	Text  *string         `json:"text"`
	Value json.RawMessage `json:"value"`
}

func (s insightSegment) String() string {
	if s.Text != nil {
		return strings.TrimSpace(*s.Text)
	}
	if len(s.Value) == 0 {
		return ""
	}
	var v string
	if json.Unmarshal(s.Value, &v) == nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(string(s.Value))
}

func insightList(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s = strings.TrimSpace(s); s == "" {
			return nil
		}
		return []string{s}
	}
	var strs []string
	if json.Unmarshal(raw, &strs) == nil {
		return compact(strs)
	}
	var segs []insightSegment
	if json.Unmarshal(raw, &segs) == nil {
		out := make([]string, 0, len(segs))
		for _, seg := range segs {
			out = append(out, seg.String())
		}
		return compact(out)
	}
	return nil
}

func insightText(raw json.RawMessage) string {
	return strings.Join(insightList(raw), "\n")
}

func insightScore(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return &f
	}
	for _, s := range insightList(raw) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return &v
		}
	}
	return nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
