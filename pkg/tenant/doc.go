/*
Package tenant implements the application registry and authorization layer.

Every protected request resolves its x-api-key header to an Application:
the configured master identity gets global rights, regular applications
are scoped to the queue patterns in settings.allowedQueues. Keys are
stored as SHA-256 hashes and compared in constant time; the plaintext is
returned exactly once, in the create response.
*/
package tenant
