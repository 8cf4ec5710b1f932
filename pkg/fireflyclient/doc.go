// Package fireflyclient is the entry point for building a Firefly III
// gateway: it wires the HTTP transport, the cache backend, the action router
// and the batch executor from a single Config.
//
// Quick start
//
//	ctx := context.Background()
//
//	client, err := fireflyclient.New(ctx, &fireflyclient.Config{
//	  BaseURL: "https://firefly.example.com",
//	  Token:   os.Getenv("FIREFLY_TOKEN"),
//	})
//	if err != nil { log.Fatal(err) }
//	defer client.Close()
//
//	// List the first page of asset accounts.
//	result, err := client.Execute(ctx, "accounts", "list", map[string]any{"type": "asset"})
//	if err != nil { log.Fatal(err) }
//	fmt.Println(string(result.Data))
//
// # Caching
//
// Reads are cached per category with a TTL and invalidated by writes. The
// cache backend is selected with Config.Cache: an in-process LRU (default),
// a NATS JetStream key/value bucket shared between processes, or both in
// tiers.
//
// # Errors
//
// Every error returned by Execute, Search and TestConnection is a
// *firefly.Error with a Kind from a closed taxonomy; batch failures are
// reported per operation in the BatchResponse instead.
package fireflyclient
