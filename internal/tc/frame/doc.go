// Package frame owns the TC transfer frame wire contract.
//
// Ownership boundary:
// - primary and segment header accessors over received bytes
// - delimiting and format validation (version, spacecraft id, flags, length, FECF)
// - local frame construction for senders and tests
package frame
