package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danielhendel/oli-sub001/internal/canon"
	"github.com/danielhendel/oli-sub001/internal/pagination"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// countLimit bounds the rows an assertion reads.
const countLimit = 10000

func (h *Harness) check(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertRunCount:
		ids, err := h.store.ListRunIDs(ctx, a.User, a.Day)
		if err != nil {
			return err
		}
		return compareCount(a.Count, len(ids))
	case AssertLatestRun:
		ptr, err := h.store.GetPointer(ctx, a.User, a.Day)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("expected %s, day has no runs", a.Run)
		}
		if err != nil {
			return err
		}
		if ptr.LatestRunID != a.Run {
			return fmt.Errorf("expected %s, got %s", a.Run, ptr.LatestRunID)
		}
		return nil
	case AssertRawEventCount:
		page, err := h.store.ListRawEvents(ctx, store.RawEventQuery{
			UserID: a.User,
			Page:   pagination.Query{Limit: countLimit},
		})
		if err != nil {
			return err
		}
		return compareCount(a.Count, len(page.Items))
	case AssertFactCount:
		facts, err := h.store.ListCurrentFacts(ctx, a.User, a.Day)
		if err != nil {
			return err
		}
		return compareCount(a.Count, len(facts))
	case AssertFailureCount:
		recs, err := h.store.ListFailures(ctx, a.User, countLimit)
		if err != nil {
			return err
		}
		return compareCount(a.Count, len(recs))
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func compareCount(want, got int) error {
	if want != got {
		return fmt.Errorf("expected %d, got %d", want, got)
	}
	return nil
}

// matchDocument reports how data differs from the expected subset, or ""
// when every expected key is present with an equal value. Both sides are
// compared in canonical form so 80 and 80.0 match.
func matchDocument(data json.RawMessage, want any) string {
	actual, err := canon.Decode(data)
	if err != nil {
		return fmt.Sprintf("stored document does not decode: %v", err)
	}
	expected, err := canon.Normalize(want)
	if err != nil {
		return fmt.Sprintf("expected value is not canonical: %v", err)
	}
	return subset(actual, expected, "")
}

func subset(actual, expected canon.Value, path string) string {
	switch exp := expected.(type) {
	case canon.Object:
		act, ok := actual.(canon.Object)
		if !ok {
			return fmt.Sprintf("%s: expected an object", pathOrRoot(path))
		}
		for _, k := range exp.SortedKeys() {
			av, ok := act[k]
			if !ok {
				return fmt.Sprintf("%s: missing", pathOrRoot(path+"."+k))
			}
			if diff := subset(av, exp[k], path+"."+k); diff != "" {
				return diff
			}
		}
		return ""
	case canon.Array:
		act, ok := actual.(canon.Array)
		if !ok || len(act) != len(exp) {
			return fmt.Sprintf("%s: expected an array of %d", pathOrRoot(path), len(exp))
		}
		for i := range exp {
			if diff := subset(act[i], exp[i], fmt.Sprintf("%s[%d]", path, i)); diff != "" {
				return diff
			}
		}
		return ""
	default:
		a, _ := canon.MarshalValue(actual)
		e, _ := canon.MarshalValue(expected)
		if string(a) != string(e) {
			return fmt.Sprintf("%s: expected %s, got %s", pathOrRoot(path), e, a)
		}
		return ""
	}
}

func pathOrRoot(path string) string {
	if path == "" {
		return "$"
	}
	return strings.TrimPrefix(path, ".")
}
