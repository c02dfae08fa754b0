// Package log provides structured logging for Hutch built on zerolog.
//
// Call Init once at startup, then use the package-level helpers or derive
// child loggers with WithComponent, WithQueue, WithJob and WithApplication.
// Console output is human readable; JSON output is intended for production.
package log
