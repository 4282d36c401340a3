// Package farm implements the FARM-1 frame acceptance and reporting mechanism
// as pure transitions over a Status value.
//
// The caller owns the Status and applies each returned value; nothing here
// keeps state between calls.
package farm
