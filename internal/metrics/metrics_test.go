package metrics

import (
	"campusconnect/backend/internal/apperr"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":               nil,
		"forbidden":        apperr.Forbidden("x"),
		"conflict":         apperr.Conflict("x"),
		"invalid_argument": apperr.InvalidArgument("x"),
		"internal":         errors.New("boom"),
	}
	for want, err := range cases {
		if got := Outcome(err); got != want {
			t.Errorf("Outcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestObserveRecordsSample(t *testing.T) {
	before := testutil.CollectAndCount(OperationDuration)
	var err error = apperr.NotFound("gone")
	Observe("metrics_test_op", time.Now(), &err)
	if after := testutil.CollectAndCount(OperationDuration); after != before+1 {
		t.Fatalf("expected one new series, had %d now %d", before, after)
	}
}
