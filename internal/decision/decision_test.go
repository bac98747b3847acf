package decision

import (
	"math"
	"strings"
	"testing"

	"offerwatchd/internal/order"
)

func copRecord(amountMajor int64, pickupM, tripM, etaMin int) *order.Record {
	return &order.Record{
		Fare:                 order.Money{Amount: amountMajor * 100, Currency: "COP", Scale: 2},
		PickupDistanceMeters: pickupM,
		DistanceMeters:       tripM,
		ETAMinutes:           etaMin,
	}
}

func TestEvaluate(t *testing.T) {
	e := New(DefaultConfig())

	tests := []struct {
		name       string
		rec        *order.Record
		want       Verdict
		wantReason string
	}{
		{
			// 12500 - 9.2km*500 = 7900 net, 12500/7 ≈ 1785/min.
			name: "good offer",
			rec:  copRecord(12500, 1200, 8000, 7),
			want: Accept,
		},
		{
			name:       "pickup too far",
			rec:        copRecord(12500, 3500, 8000, 7),
			want:       Reject,
			wantReason: "pickup too far",
		},
		{
			name:       "trip too short",
			rec:        copRecord(12500, 500, 800, 7),
			want:       Reject,
			wantReason: "trip too short",
		},
		{
			// 4000 - 9km*500 = -500 net.
			name:       "net too low",
			rec:        copRecord(4000, 1000, 8000, 7),
			want:       Reject,
			wantReason: "net too low",
		},
		{
			// 12500/40 = 312/min, below 400; net is fine.
			name:       "rate too low",
			rec:        copRecord(12500, 1000, 8000, 40),
			want:       Reject,
			wantReason: "rate too low",
		},
		{
			// No ETA and no distances observed: nothing rejects on
			// missing evidence, net uses the token 0.1 km floor.
			name: "sparse record is permissive",
			rec:  copRecord(12500, 0, 0, 0),
			want: Accept,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(tt.rec)
			if got.Verdict != tt.want {
				t.Fatalf("Verdict = %s, want %s (reason %q)", got.Verdict, tt.want, got.Reason)
			}
			if tt.wantReason != "" && !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want substring %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateComputedFields(t *testing.T) {
	e := New(DefaultConfig())
	r := e.Evaluate(copRecord(12500, 1200, 8000, 7))

	if want := 12500.0 - 9.2*500; math.Abs(r.Net-want) > 0.01 {
		t.Errorf("Net = %f, want %f", r.Net, want)
	}
	if math.Abs(r.TotalKm-9.2) > 0.001 {
		t.Errorf("TotalKm = %f, want 9.2", r.TotalKm)
	}
	if r.RatePerMinute == 0 {
		t.Error("RatePerMinute should be set when an ETA was observed")
	}
}

func TestParseVerdict(t *testing.T) {
	for _, s := range []string{"accept", "reject"} {
		v, err := ParseVerdict(s)
		if err != nil {
			t.Fatalf("ParseVerdict(%q) failed: %v", s, err)
		}
		if v.String() != s {
			t.Errorf("round trip %q -> %s", s, v)
		}
	}
	if _, err := ParseVerdict("maybe"); err == nil {
		t.Error("expected error for unknown verdict")
	}
}
