// Package failure records pipeline failures into an append-only failure memory.
//
// A failure's id is derived from its identifying fields, so recording the
// same failure twice is a no-op. When a different failure lands on an id
// that is already taken, the recorder walks a short chain of alternate ids
// derived from both contents instead of overwriting or dropping either one.
// The chain is bounded by MaxDepth; past it the record is refused with
// ErrChainExhausted.
package failure
