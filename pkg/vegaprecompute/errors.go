package vegaprecompute

import (
	"github.com/vk/vegaprecompute/internal/verr"
)

// Kind classifies the errors returned by a Runtime.
type Kind = verr.Kind

const (
	KindMalformedDocument   = verr.KindMalformedDocument
	KindUnresolvedReference = verr.KindUnresolvedReference
	KindCyclicDependency    = verr.KindCyclicDependency
	KindTransformEvaluation = verr.KindTransformEvaluation
	KindState               = verr.KindState
)

// Sentinels for errors.Is. Errors match a sentinel when their kinds match.
var (
	ErrMalformedDocument   = verr.ErrMalformedDocument
	ErrUnresolvedReference = verr.ErrUnresolvedReference
	ErrCyclicDependency    = verr.ErrCyclicDependency
	ErrTransformEvaluation = verr.ErrTransformEvaluation
	ErrState               = verr.ErrState

	// ErrDestroyed is returned by every method called after Destroy.
	ErrDestroyed = verr.New(verr.KindState, "runtime context has been destroyed")
)

// KindOf returns the kind of err, or zero for errors not produced here.
func KindOf(err error) Kind {
	return verr.KindOf(err)
}
