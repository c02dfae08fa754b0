// Package apierr models API-visible failures as typed errors with stable
// string codes. Handlers never match on message text: the Code is the
// contract, and the hint fields drive the self-documenting error envelope.
package apierr
