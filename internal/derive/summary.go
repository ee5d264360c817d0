package derive

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/model"
)

// Artifact kinds produced by SummaryEngine.
const (
	ArtifactDailyFacts   = "daily_facts"
	ArtifactDailySummary = "daily_summary"
	ArtifactInsight      = "insight"
)

// SummaryVersion is SummaryEngine's pipeline version.
const SummaryVersion = "summary/1"

// SummaryEngine produces the day's facts, a per-kind summary and one insight
// per kind comparing the latest reading to the earliest.
type SummaryEngine struct{}

// Version implements RuleEngine.
func (SummaryEngine) Version() string { return SummaryVersion }

type factDoc struct {
	ID         string             `json:"id"`
	Kind       model.Kind         `json:"kind"`
	ObservedAt model.ObservedTime `json:"observed_at"`
	Value      map[string]any     `json:"value"`
	RawEventID string             `json:"raw_event_id"`
	Supersedes string             `json:"supersedes,omitempty"`
}

type dailyFacts struct {
	Day   string    `json:"day"`
	Facts []factDoc `json:"facts"`
}

type fieldRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type kindSummary struct {
	Count            int                   `json:"count"`
	Latest           map[string]any        `json:"latest"`
	LatestObservedAt string                `json:"latest_observed_at"`
	Fields           map[string]fieldRange `json:"fields"`
}

type dailySummary struct {
	Day       string                 `json:"day"`
	FactCount int                    `json:"fact_count"`
	Kinds     map[string]kindSummary `json:"kinds"`
}

type insight struct {
	Day      string             `json:"day"`
	Kind     model.Kind         `json:"kind"`
	Readings int                `json:"readings"`
	First    map[string]any     `json:"first"`
	Latest   map[string]any     `json:"latest"`
	Change   map[string]float64 `json:"change"`
}

// Compute implements RuleEngine. Facts arrive ordered by observed time.
func (SummaryEngine) Compute(ctx context.Context, facts Facts) ([]Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs := make([]factDoc, len(facts.Events))
	byKind := make(map[model.Kind][]model.CanonicalEvent)
	for i, ev := range facts.Events {
		docs[i] = factDoc{
			ID:         ev.ID,
			Kind:       ev.Kind,
			ObservedAt: ev.ObservedAt,
			Value:      ev.Value,
			RawEventID: ev.RawEventID,
			Supersedes: ev.Supersedes,
		}
		byKind[ev.Kind] = append(byKind[ev.Kind], ev)
	}

	summary := dailySummary{
		Day:       facts.Day,
		FactCount: len(facts.Events),
		Kinds:     make(map[string]kindSummary, len(byKind)),
	}
	artifacts := []Artifact{
		{Kind: ArtifactDailyFacts, Data: dailyFacts{Day: facts.Day, Facts: docs}},
		{Kind: ArtifactDailySummary, Data: &summary},
	}

	kinds := make([]model.Kind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	for _, kind := range kinds {
		events := byKind[kind]
		first, latest := events[0], events[len(events)-1]

		summary.Kinds[string(kind)] = kindSummary{
			Count:            len(events),
			Latest:           latest.Value,
			LatestObservedAt: canon.FormatTime(latest.ObservedAt.Start),
			Fields:           numericRanges(events),
		}
		artifacts = append(artifacts, Artifact{
			Kind:  ArtifactInsight,
			DocID: ArtifactInsight + ":" + string(kind),
			Data: insight{
				Day:      facts.Day,
				Kind:     kind,
				Readings: len(events),
				First:    first.Value,
				Latest:   latest.Value,
				Change:   numericChange(first.Value, latest.Value),
			},
		})
	}
	return artifacts, nil
}

func numericRanges(events []model.CanonicalEvent) map[string]fieldRange {
	ranges := make(map[string]fieldRange)
	for _, ev := range events {
		for field, raw := range ev.Value {
			v, ok := asFloat(raw)
			if !ok {
				continue
			}
			r, seen := ranges[field]
			if !seen {
				ranges[field] = fieldRange{Min: v, Max: v}
				continue
			}
			r.Min = min(r.Min, v)
			r.Max = max(r.Max, v)
			ranges[field] = r
		}
	}
	return ranges
}

func numericChange(first, latest map[string]any) map[string]float64 {
	change := make(map[string]float64)
	for field, raw := range latest {
		to, ok := asFloat(raw)
		if !ok {
			continue
		}
		from, ok := asFloat(first[field])
		if !ok {
			continue
		}
		change[field] = to - from
	}
	return change
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
