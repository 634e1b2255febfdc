// Package provider defines the gateway abstraction used by the payment core and
// the types that cross it.
//
// # Core Concepts
//
//   - Gateway: the capability contract every adapter implements (kashier, paymob, cod)
//   - Factory: maps payment methods to adapters and memoizes them per process
//   - PaymentIntent: one checkout attempt for an order, with a stable merchant reference
//   - PaymentResult / RefundResult: typed outcomes; adapters never return transport errors
//   - Confirmation: an inbound redirect or webhook as received at the HTTP boundary
//
// # Basic Usage
//
//	factory := provider.NewFactory(cfg.Payment.MethodGateways)
//	kashier.Register(factory, cfg.Kashier, audit)
//	cod.Register(factory)
//
//	gw, err := factory.ForMethod("card")
//	if err != nil {
//	    // errors.Is(err, provider.ErrMethodNotSupported)
//	}
//
//	intent, err := provider.NewPaymentIntent(order.ID, 1, order.Total, "EGP", gw.Name(), "Moda", urls, customer)
//	result, err := gw.Initiate(ctx, intent)
//	if result.RequiresAction {
//	    http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
//	}
//
// # Errors
//
// ValidationError and PreconditionError are returned before any network call.
// GatewayError is produced by GatewayHTTPClient and converted by adapters into a
// failed result that carries the raw response. SignatureError is raised at the
// HTTP boundary when a confirmation fails verification.
//
// # Audit
//
// Every gateway exchange is passed to an AuditLogger after card numbers, CVVs and
// credentials are masked. The OpenSearch implementation indexes into
// "storepay-{gateway}-logs".
package provider
