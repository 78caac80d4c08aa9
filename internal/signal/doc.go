// Package signal computes elementary order-book, open-interest and funding
// signals. Every function is pure and safe for concurrent use; degenerate
// inputs (empty ladders, zero totals, zero elapsed time) map to a neutral
// value instead of an error.
package signal
