package paymob

import "encoding/json"

// intentionRequest is the body of POST /v1/intention/
type intentionRequest struct {
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	PaymentMethods   []int          `json:"payment_methods"`
	Items            []item         `json:"items"`
	BillingData      billingData    `json:"billing_data"`
	Customer         customer       `json:"customer"`
	SpecialReference string         `json:"special_reference"`
	NotificationURL  string         `json:"notification_url,omitempty"`
	RedirectionURL   string         `json:"redirection_url,omitempty"`
	Extras           map[string]any `json:"extras,omitempty"`
}

type item struct {
	Name        string `json:"name"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
}

// billingData fields are mandatory on Paymob's side; unknown values are sent as "NA"
type billingData struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Street      string `json:"street"`
	Building    string `json:"building"`
	Floor       string `json:"floor"`
	Apartment   string `json:"apartment"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	PostalCode  string `json:"postal_code"`
}

type customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type intentionResponse struct {
	ID               string      `json:"id"`
	ClientSecret     string      `json:"client_secret"`
	IntentionOrderID json.Number `json:"intention_order_id"`
	SpecialReference string      `json:"special_reference"`
	Status           string      `json:"status"`
	Detail           string      `json:"detail"`
	Message          string      `json:"message"`
}

func (r intentionResponse) errorMessage() string {
	if r.Detail != "" {
		return r.Detail
	}
	return r.Message
}

// refundRequest is the body of POST /api/acceptance/void_refund/refund
type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
}

type transactionResponse struct {
	ID          json.Number `json:"id"`
	Success     bool        `json:"success"`
	Pending     bool        `json:"pending"`
	IsRefund    bool        `json:"is_refund"`
	AmountCents json.Number `json:"amount_cents"`
	Detail      string      `json:"detail"`
	Message     string      `json:"message"`
	Data        struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (r transactionResponse) errorMessage() string {
	switch {
	case r.Data.Message != "":
		return r.Data.Message
	case r.Detail != "":
		return r.Detail
	default:
		return r.Message
	}
}
