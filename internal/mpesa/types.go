package mpesa

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthError indicates the gateway refused or failed to issue an OAuth
// access token. It is not retryable beyond the client's single retry.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mpesa auth failed: %s", e.Reason)
}

// ChargeRejectedError indicates the gateway synchronously declined the
// charge request (non-zero response code or a client-side request error).
type ChargeRejectedError struct {
	Code   string
	Reason string
}

func (e *ChargeRejectedError) Error() string {
	return fmt.Sprintf("charge rejected by gateway (code %s): %s", e.Code, e.Reason)
}

// GatewayError indicates the gateway could not be reached or returned a
// response that could not be understood. The caller decides retry policy;
// the client never retries a charge automatically.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("mpesa gateway unavailable during %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ChargeAccepted is the gateway's synchronous acknowledgement of an STK push
// request. CheckoutRequestID is the correlation key the asynchronous callback
// will later be reconciled against.
type ChargeAccepted struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

// Callback is the parsed asynchronous payment notification. ResultCode 0
// means the customer completed the charge; any other code is a failure
// (e.g. 1032 = request cancelled by user).
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	TransactionDate   *time.Time
	Amount            float64
}

// Succeeded reports whether the callback describes a completed charge.
func (c *Callback) Succeeded() bool { return c.ResultCode == 0 }

// stkCallbackBody mirrors the provider's nested callback JSON.
type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback validates and parses a raw callback payload into a typed
// Callback. It fails if the payload is not the provider's callback shape or
// carries no checkout request id.
func ParseCallback(raw []byte) (*Callback, error) {
	var body stkCallbackBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("malformed callback payload: %w", err)
	}

	stk := body.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback payload missing CheckoutRequestID")
	}

	cb := &Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				cb.ReceiptNumber = s
			}
		case "Amount":
			if f, ok := item.Value.(float64); ok {
				cb.Amount = f
			}
		case "TransactionDate":
			// The provider sends the date as a numeric YYYYMMDDHHMMSS value.
			var s string
			switch v := item.Value.(type) {
			case string:
				s = v
			case float64:
				s = fmt.Sprintf("%.0f", v)
			}
			if t, err := time.Parse("20060102150405", s); err == nil {
				cb.TransactionDate = &t
			}
		}
	}

	return cb, nil
}
