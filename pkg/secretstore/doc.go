// Package secretstore defines the key/value contract keyrelay uses to talk to
// a remote secret store.
//
// A store maps a key to an opaque string value. keyrelay stores one
// credential per key (the key is the credential name) plus a small number of
// configuration keys that share a reserved prefix.
//
// # Contract
//
//   - Get returns NotFoundError when the key is missing.
//   - Set creates or replaces the value.
//   - Delete is idempotent: a missing key is not an error.
//   - ListKeys pages through every key. Each KeyDescriptor carries the
//     store's fully-qualified identifier; the logical key name is the
//     trailing segment after the last '/'.
//
// Implementations live in internal/providers and must be safe for
// concurrent use. They never retry on their own; retry policy belongs to
// the caller.
//
// # Example
//
//	pager := store.ListKeys(ctx, 25)
//	for pager.More() {
//	    page, err := pager.NextPage(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    for _, key := range page.Keys {
//	        fmt.Println(key.Name())
//	    }
//	}
package secretstore
