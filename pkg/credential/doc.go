// Package credential defines the credential record that keyrelay keeps in a
// remote secret store and pushes to a device.
//
// A record is addressed in the store by its Name; the JSON payload stored
// under that key carries every field. ID is a process-local number assigned
// by the synchronization engine and is not stable across cache rebuilds.
//
// # Summary and full records
//
// Listing the store yields only key names, so a freshly listed record is a
// summary: ID and Name are set and State is StateSummary. Reading the record
// fetches the payload and the record becomes StateFull. An empty Password on
// a full record is a real empty password, never a marker for "not loaded".
package credential
