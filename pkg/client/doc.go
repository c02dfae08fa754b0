/*
Package client is the Go client for the hutch HTTP API, used by the CLI
and handy for embedding in other services. API errors come back as
*apierr.Error values carrying the service's stable error codes.
*/
package client
