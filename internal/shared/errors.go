package shared

import "errors"

// ErrUpstreamUnavailable marks a failure of the embedding index, the LLM or the
// preference store. Callers recover from it with a fallback.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")
