// Package firefly provides the request orchestration layer that sits between
// MCP tool calls and the Firefly III REST API.
//
// # Overview
//
// A tool call names a resource category (accounts, transactions, tags, ...),
// an action (get, list, create, update, delete) and a free-form parameter
// map. The Router validates the call, turns it into a sealed Envelope and
// dispatches it. Reads go through the CacheManager and the Pager; writes go
// straight to the transport and then invalidate the affected categories.
//
//	registry := firefly.DefaultRegistry()
//	cache := firefly.NewCacheManager(firefly.NewMemoryCache(1000), logger)
//	router := firefly.NewRouter(doer, registry, cache,
//	  firefly.WithRouterLogger(logger),
//	  firefly.WithCachingPolicy(firefly.DefaultCachingPolicy()),
//	)
//
//	res, err := router.Execute(ctx, "accounts", "list", map[string]any{"limit": 20})
//	if err != nil { /* err is always a *firefly.Error */ }
//	_ = res.List.Items
//
// Most consumers should use the fireflyclient package, which wires the
// transport, cache backend and router from configuration.
//
// # Errors
//
// Every failure that leaves the router is an *Error carrying one of a closed
// set of kinds (ValidationError, AuthError, NotFoundError, RateLimitError,
// ServerError, ConnectivityError, PaginationLimitError, InvalidActionError,
// SkippedError, UnknownError). Use errors.Is with the sentinel values
// (ErrNotFound, ErrAuth, ...) to branch on them.
//
// # Pagination
//
// Pager fetches single pages. PaginationIterator, StreamPages and
// FetchAllPages walk a list endpoint from page 1 until the declared total
// page count is reached or a short page is seen, failing with a
// PaginationLimitError once the configured page cap is exceeded.
//
// # Caching
//
// CacheManager fronts a pluggable Cache backend (MemoryCache, NATSKVCache,
// NoOpCache or a CacheChain of them). Entries are grouped by category so a
// write can invalidate every cached read of that category in one call.
//
// # Batches
//
// BatchExecutor runs a list of operations strictly in order through the
// router and returns exactly one BatchResult per operation. BatchTransaction
// adds stop-on-first-failure semantics with compensating deletes.
package firefly
