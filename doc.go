// Package storepay is the payment core of the storefront. It hides the external
// payment gateways behind one contract and owns the payment status of an order
// from checkout to refund.
//
// # Overview
//
// A checkout picks a payment method (card, wallet or cod). The method is mapped to a
// gateway adapter, the adapter talks to the provider, and the result drives the
// order's payment state machine:
//
//	┌─────────────────┐    ┌─────────────────┐    ┌─────────────────┐
//	│                 │    │                 │    │                 │
//	│   Storefront    │◄──►│    StorePay     │◄──►│    Kashier      │
//	│ (checkout, RMA) │    │ (orchestrator)  │    │    Paymob       │
//	│                 │    │                 │    │                 │
//	└─────────────────┘    └─────────────────┘    └─────────────────┘
//
//	pending ──► paid ──► refunded
//	   │
//	   └──► failed
//
// # Supported Gateways
//
//   - Kashier: card, wallet (request to pay) and hosted checkout with signed redirects
//   - Paymob: payment intentions with unified checkout
//   - COD: cash on delivery, no external calls and nothing to refund
//
// # Packages
//
//   - provider: gateway contract, factory, errors, HTTP client and audit
//   - provider/signature: HMAC-SHA256 signing for redirect and webhook payloads
//   - order: order and return entities, the state machine and the stores
//   - payment: orchestrator, refund coordinator, events, dedup and the pending sweeper
//   - handler, router: the HTTP surface
//
// # Quick Start
//
//	store, _ := order.NewSQLiteStore("storepay.db")
//
//	factory := provider.NewFactory(cfg.Payment.MethodGateways)
//	kashier.Register(factory, cfg.Kashier, provider.NopAudit{})
//	cod.Register(factory)
//
//	orchestrator := payment.NewOrchestrator(store, factory, cfg.Payment)
//	result, err := orchestrator.InitializePayment(ctx, orderID)
//	if err != nil {
//	    // errors.Is(err, provider.ErrPrecondition), provider.ErrMethodNotSupported ...
//	}
//	if result.RequiresAction {
//	    // redirect the customer to result.RedirectURL
//	}
//
// # Callbacks and Webhooks
//
//   - Redirects: /callback/{gateway}, answered with a redirect to the storefront
//   - Webhooks: /webhooks/{gateway}, applied before the response so the gateway retries on failure
//
// Every confirmation is signature checked before the order is touched. Repeated
// deliveries of the same confirmation are acknowledged without a second transition.
//
// # Configuration
//
// Configuration is read from the environment (and a .env file when present):
//
//	KASHIER_MERCHANT_ID=MID-1234
//	KASHIER_API_KEY=your-api-key
//	KASHIER_SECRET_KEY=your-secret-key
//	PAYMOB_SECRET_KEY=your-secret-key
//	PAYMOB_HMAC_SECRET=your-hmac-secret
//	PAYMENT_METHOD_MAP=card:paymob,wallet:kashier
//
// # Security Features
//
//   - Constant time signature comparison
//   - Card numbers and CVVs masked in gateway logs
//   - Rate limiting
//   - IP whitelisting for refunds and gateway logs
package storepay
