// Package utils holds small shared helpers: content hashing for stored files
// and input validation for values arriving over the wire.
package utils
