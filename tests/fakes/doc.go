// Package fakes provides test doubles for keyrelay's store and device
// channel contracts.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior: per-key error injection, call recording and
// deterministic paging.
//
// Usage:
//
//	store := fakes.NewFakeSecretStore("kv").
//	    WithValue("github", `{"Name":"github","Password":"p1"}`).
//	    WithError(fakes.OpSet, "github", errors.New("throttled"))
//	engine := credsync.New(store)
package fakes
