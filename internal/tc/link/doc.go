// Package link owns the TC data link layer receiver.
//
// Ownership boundary:
// - start sequence stripping and frame validation
// - virtual channel registration and VCID demultiplexing
// - CLCW reporting after every processed frame
//
// Error tiers returned by ProcessFrame:
// - frame.Err*: format or integrity failure, the frame was dropped
// - farm.ErrIllegalBcCommand: undecodable control frame, the frame was dropped
// - mapx.Err*: the frame was accepted but its MAP channel failed to extract a packet
//
// Protocol outcomes (window rejections, lockout, wait, control commands) are
// not errors and are reported through Result.
package link
