// Package registry maintains the catalog of remote capabilities: metadata,
// secondary indexes, permission checks, trust levels, and usage accounting.
//
// The registry is deliberately independent of transport state; tools stay
// registered across disconnects. Loading resolves a registration against a
// provider-specific loader, and a periodic sweep unloads idle tools and
// evicts least-recently-used entries beyond the configured ceiling.
package registry
