// Package specmodel parses a Vega specification into a validated,
// read-only model.
//
// The raw decoded document is kept next to typed views of its datasets,
// transforms and signals. Output assembly works on a deep copy of the raw
// tree, so anything the engine does not understand (scales, marks,
// projections, config) passes through untouched.
//
// Parse performs three checks, each with its own error kind:
//
//   - the text must be a JSON object (MalformedDocument)
//   - the object must match the embedded structural schema (MalformedDocument)
//   - every dataset and signal reference must resolve (UnresolvedReference)
//
// Expressions found in transform parameters and signal updates are parsed
// with vegaexpr. An expression outside the supported subset does not fail
// parsing; the owning dataset or signal is flagged Unsupported and later
// left for the rendering client.
package specmodel
