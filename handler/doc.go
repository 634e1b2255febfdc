// Package handler provides the HTTP handlers of the storefront payment API.
//
// Handlers decode requests, call the payment orchestrator or the refund
// coordinator and write the infra/response envelope. They hold no payment
// logic of their own.
//
// # Payment Handler
//
// PaymentHandler serves the customer and back-office operations:
//
//	payments := handler.NewPaymentHandler(orchestrator, coordinator, store)
//
//	r.Post("/v1/orders/{orderID}/payments", payments.InitializePayment)
//	r.Post("/v1/orders/{orderID}/payments/card", payments.PayWithCard)
//	r.Post("/v1/orders/{orderID}/payments/wallet", payments.PayWithWallet)
//	r.Get("/v1/orders/{orderID}/payment", payments.GetPaymentStatus)
//	r.Post("/v1/orders/{orderID}/refunds", payments.RefundPayment)
//	r.Post("/v1/returns/{returnID}/refund", payments.RefundReturn)
//
// A card payment request:
//
//	POST /v1/orders/42/payments/card
//	Content-Type: application/json
//
//	{
//	  "holderName": "Mona Adel",
//	  "number": "5123450000000008",
//	  "expiryMonth": 5,
//	  "expiryYear": 2030,
//	  "cvv": "100"
//	}
//
// A declined payment is answered with 402 and the gateway result in data. A
// payment needing 3-D Secure or a hosted page is a 200 with requiresAction set
// and redirectUrl to follow.
//
// # Callback Handler
//
// CallbackHandler receives what gateways send back:
//
//	r.HandleFunc("/callback/{gateway}", callbacks.HandleCallback)
//	r.Post("/webhooks/{gateway}", callbacks.HandleWebhook)
//
// Browser redirects end at the storefront success or failure page with the
// order id and status in the query. Webhooks are applied synchronously and
// acknowledged with the resulting status; a repeated delivery is acknowledged
// with duplicate set. Nothing is changed when the signature does not verify.
//
// # HTTP Status Codes
//
//   - 200 OK: operation applied, or customer action required
//   - 400 Bad Request: malformed input or unsupported payment method
//   - 401 Unauthorized: confirmation signature mismatch
//   - 402 Payment Required: payment declined
//   - 404 Not Found: unknown order or return
//   - 409 Conflict: the order's payment state does not allow the operation
//   - 502 Bad Gateway: gateway unreachable or refund declined
//   - 503 Service Unavailable: health check failed
package handler
