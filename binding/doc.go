// Package binding lets repositories and models find their database session
// without it being passed on every call: SessionMixin and BoundClass attach a
// session, Required resolves it at call time, and Manager shares one session
// across many bound types.
package binding
