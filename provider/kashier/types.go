package kashier

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// payRequest is the body of a direct card or wallet call
type payRequest struct {
	APIOperation     string        `json:"apiOperation"`
	MerchantID       string        `json:"merchantId"`
	MerchantOrderID  string        `json:"merchantOrderId"`
	Amount           string        `json:"amount"`
	Currency         string        `json:"currency"`
	PaymentMethod    paymentMethod `json:"paymentMethod"`
	Customer         customer      `json:"customer"`
	ServerWebhook    string        `json:"serverWebhook,omitempty"`
	MerchantRedirect string        `json:"merchantRedirect,omitempty"`
	FailureRedirect  string        `json:"failureRedirect,omitempty"`
}

type paymentMethod struct {
	Type   string  `json:"type"`
	Card   *card   `json:"card,omitempty"`
	Wallet *wallet `json:"wallet,omitempty"`
}

type card struct {
	CardHolderName string `json:"cardHolderName"`
	CardNumber     string `json:"cardNumber"`
	ExpiryMonth    string `json:"expiryMonth"`
	ExpiryYear     string `json:"expiryYear"`
	CVV            string `json:"cvv"`
}

type wallet struct {
	MobilePhoneNumber string `json:"mobilePhoneNumber"`
}

type customer struct {
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// refundRequest is the body of PUT /v3/orders/{orderId}/
type refundRequest struct {
	APIOperation string            `json:"apiOperation"`
	Reason       string            `json:"reason,omitempty"`
	Transaction  refundTransaction `json:"transaction"`
}

type refundTransaction struct {
	Amount string `json:"amount"`
}

// envelope wraps every FEP response. Outcome is carried in "status" on current
// API versions and in "result" on older ones.
type envelope struct {
	Status   string          `json:"status"`
	Result   string          `json:"result"`
	Message  string          `json:"message"`
	Messages messages        `json:"messages"`
	Response *orderResponse  `json:"response"`
	Raw      json.RawMessage `json:"-"`
}

type messages struct {
	En string `json:"en"`
	Ar string `json:"ar"`
}

type orderResponse struct {
	Status          string          `json:"status"`
	TransactionID   string          `json:"transactionId"`
	OrderID         string          `json:"orderId"`
	KashierOrderID  string          `json:"kashierOrderId"`
	MerchantOrderID string          `json:"merchantOrderId"`
	Amount          json.Number     `json:"amount"`
	Currency        string          `json:"currency"`
	RedirectURL     string          `json:"redirectUrl"`
	Authentication  *authentication `json:"authentication"`
	Card            *cardInfo       `json:"card"`
}

type authentication struct {
	RedirectURL string `json:"redirectUrl"`
}

type cardInfo struct {
	MaskedCard string `json:"maskedCard"`
	CardBrand  string `json:"cardBrand"`
}

func (e envelope) outcome() string {
	if e.Result != "" {
		return strings.ToUpper(e.Result)
	}
	return strings.ToUpper(e.Status)
}

// message returns the gateway's English decline reason when present
func (e envelope) message() string {
	if e.Messages.En != "" {
		return e.Messages.En
	}
	return e.Message
}

func (r *orderResponse) status() string {
	if r == nil {
		return ""
	}
	return strings.ToUpper(r.Status)
}

func (r *orderResponse) gatewayOrderID() string {
	if r.KashierOrderID != "" {
		return r.KashierOrderID
	}
	return r.OrderID
}

func (r *orderResponse) stepUpURL() string {
	if r.Authentication != nil && r.Authentication.RedirectURL != "" {
		return r.Authentication.RedirectURL
	}
	return r.RedirectURL
}

func (r *orderResponse) amount() (decimal.Decimal, bool) {
	if r.Amount == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(r.Amount.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
