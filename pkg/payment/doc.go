// Package payment abstracts the payment provider behind a narrow contract:
// create a hosted checkout session and decode signed webhooks into
// normalized events. The billing core never touches provider payloads; it
// consumes only the decoded Event.
//
// The Paddle implementation attaches the billing core's correlation metadata
// (session id, subscriber id, jurisdiction, plan, cycle) as transaction
// custom data. Paddle echoes it back on webhooks, which lets reconciliation
// correlate events without provider-side state.
package payment
