// Package transform implements the Vega data transforms that can be
// evaluated on the server.
//
// Every transform is a Func registered under its Vega type name. Run
// resolves a step's {"signal": ...} parameters against the pipeline's Env,
// dispatches to the registered Func and wraps any failure as a
// TransformEvaluationError. Funcs never mutate their input rows; a step that
// adds fields copies the row first, so upstream datasets can be shared
// between pipelines without locking.
//
// Check reports, before any evaluation, whether a step is supported at all.
// Unsupported steps keep their dataset on the client.
package transform
