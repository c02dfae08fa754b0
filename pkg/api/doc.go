/*
Package api exposes the HTTP JSON surface of the service.

Every response uses one envelope: {success:true, data, metadata} on
success, {success:false, error:{code, message, hints, possibleCauses,
suggestedFixes}} on failure, with stable machine-readable error codes.
The middleware chain stamps a request id, writes an access log line,
records request metrics, rate limits per API key, and resolves the
x-api-key header to an application identity. The /api/explain routes
self-document the surface for machine consumers.
*/
package api
