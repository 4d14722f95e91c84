package domain

import "testing"

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want CanonicalStatus
	}{
		{raw: "pending", want: StatusPending},
		{raw: "pending_payment", want: StatusPending},
		{raw: "Processing", want: StatusProcessing},
		{raw: "shipped", want: StatusShipped},
		{raw: "complete", want: StatusComplete},
		{raw: "canceled", want: StatusCanceled},
		{raw: "CANCELLED", want: StatusCanceled},
		{raw: "closed", want: StatusClosed},
		{raw: "refunded", want: StatusRefunded},
		{raw: "holded", want: StatusHolded},
		{raw: "payment_review", want: StatusPaymentReview},
		{raw: "em_producao", want: StatusEmProducao},
		{raw: "fraud_suspected", want: CanonicalStatus("FRAUD_SUSPECTED")},
		{raw: "", want: CanonicalStatus("")},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeStatus(tt.raw); got != tt.want {
				t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
