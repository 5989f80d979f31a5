package gateway

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

// ParseOutcome maps provider status vocabulary onto outcomes.
func ParseOutcome(status string) (domain.Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "succeeded", "paid", "completed":
		return domain.OutcomeSuccess, true
	case "failed", "failure", "declined", "cancelled", "canceled", "rejected":
		return domain.OutcomeFailure, true
	case "pending", "processing", "created":
		return domain.OutcomePending, true
	}
	return "", false
}

// ParseCallback reads the generic callback body
// {"orderId": "...", "handle": "...", "status": "...", "amount": 5000, "currency": "USD"}
// with amount in minor units. The body must already be authenticated.
func ParseCallback(payload []byte) (*Callback, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errors.ErrMalformedCallback
	}
	fields := gjson.GetManyBytes(payload, "orderId", "handle", "status", "amount", "currency")

	orderID, err := uuid.Parse(fields[0].String())
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedCallback, "orderId")
	}
	outcome, ok := ParseOutcome(fields[2].String())
	if !ok {
		return nil, errors.Wrap(errors.ErrMalformedCallback, "status")
	}
	if fields[3].Type != gjson.Number || fields[3].Int() <= 0 || float64(fields[3].Int()) != fields[3].Float() {
		return nil, errors.Wrap(errors.ErrMalformedCallback, "amount")
	}

	return &Callback{
		OrderID:  orderID,
		Handle:   fields[1].String(),
		Outcome:  outcome,
		Amount:   fields[3].Int(),
		Currency: strings.ToUpper(fields[4].String()),
	}, nil
}
