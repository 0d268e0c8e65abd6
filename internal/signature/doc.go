// Package signature signs outbound deliveries so receivers can authenticate
// them.
//
// A destination with a secret gets one extra header per attempt:
//
//	X-Webhook-Signature: t=1700000000,v1=<hex digest>
//
// v1 is the hex HMAC-SHA256 of "<t>\n<body>" under the destination secret.
// Receivers recompute it and reject timestamps outside a tolerance window to
// stop replays. Verify implements that check.
package signature
