// Package executor implements a breadth-first, batch-friendly GraphQL executor
// with explicit runtime hooks for synchronous resolution, depth-wise batching of
// asynchronous work, abstract-type resolution, and leaf serialization.
//
// # Execution Model
//
// Fields are either synchronous or asynchronous, as recorded in
// schema.Field.Async. Synchronous fields are resolved and completed as soon
// as they are reached and never add depth. Asynchronous fields are queued and
// resolved together with one Runtime.BatchResolveAsync call per depth; the
// objects they return are expanded the same way, and the async fields found
// below them form the next batch. For a query whose async nesting is d,
// BatchResolveAsync is called d times.
//
// Each async field leaves a placeholder in the response tree that is replaced
// when its batch completes.
//
// # Mutations
//
// Root mutation fields run one at a time in document order. Each one,
// including every batch beneath it, completes before the next starts.
//
// # Non-Null propagation
//
// The executor records which response positions are Non-Null. When a
// Non-Null position ends up null, the nearest nullable ancestor is set to
// null and marked as a tombstone; queued tasks below a tombstone are dropped
// before the next batch. If no nullable ancestor exists, data is null.
//
// # Errors
//
// Errors are accumulated as located GraphQL errors with message, locations
// and path. Runtime errors implementing ExtendedError contribute their
// extensions. Batch results are independent, so a batch can partially succeed.
//
// # Fragments
//
// Fragment type conditions match the concrete object type and any interface
// or union it belongs to.
package executor
