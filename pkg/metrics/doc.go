// Package metrics exposes Prometheus collectors for queue throughput,
// webhook fanout, scheduler firings and API traffic. Collectors are
// registered at init; Handler mounts the scrape endpoint.
package metrics
