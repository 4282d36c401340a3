// Package mapx owns MAP channel packet extraction.
//
// Ownership boundary:
// - unblocking of unsegmented frames carrying back-to-back space packets
// - reassembly of segmented packets into a fixed-capacity buffer
// - hand-off of completed packets to a packet store and delivery queue
package mapx
