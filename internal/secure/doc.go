// Package secure keeps sensitive strings sealed in memory.
//
// Values are held in memguard enclaves: encrypted with XSalsa20Poly1305 and
// only decrypted into a locked, guard-paged buffer for the duration of a
// Reveal call. keyrelay uses it for the IoT Hub connection string, which
// carries a shared access key and stays cached for the life of the process.
//
// Core dumps and swap will not contain the plaintext of a sealed value. This
// does not protect against an attacker with access to the running process.
//
// Call memguard.Purge (via Purge) before exit to wipe every enclave key.
package secure
