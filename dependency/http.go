/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dependency

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tomoncle/magic/database"
)

// ErrHandlerStatus marks a request that ended with a 5xx response.
var ErrHandlerStatus = errors.New("dependency: handler responded with server error")

// Middleware gives every request its own Request. When the handler returns,
// the Request is closed with the failure recorded by Fail, a 5xx status, or a
// panic, so request sessions roll back; otherwise they follow their commit
// policy. A teardown error on an otherwise clean request is answered with 500
// if the handler has not written yet.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := NewRequest(r.Context())
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				_ = req.Close(fmt.Errorf("panic in handler: %v", p))
				panic(p)
			}
		}()

		next.ServeHTTP(rec, r.WithContext(WithRequest(r.Context(), req)))

		cause := req.Err()
		if cause == nil && rec.status >= http.StatusInternalServerError {
			cause = fmt.Errorf("%w: %d", ErrHandlerStatus, rec.status)
		}
		if err := req.Close(cause); err != nil && cause == nil {
			database.GetLogger().Error("Request teardown failed", "method", r.Method, "path", r.URL.Path, "error", err)
			if !rec.wrote {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}
	})
}

// HandlerFunc is an http handler that reports failure by returning an error.
// A returned error is recorded with Fail and answered with 500 unless the
// handler already wrote a response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec, ok := w.(*statusRecorder)
	if !ok {
		rec = &statusRecorder{ResponseWriter: w}
	}
	if err := f(rec, r); err != nil {
		Fail(r, err)
		if !rec.wrote {
			http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// Fail records err on the request scope of r.
func Fail(r *http.Request, err error) {
	if req := FromContext(r.Context()); req != nil {
		req.Fail(err)
	}
}

// Get resolves p on the request scope of r.
func Get[T any](r *http.Request, p *Provider[T]) (T, error) {
	req := FromContext(r.Context())
	if req == nil {
		var zero T
		return zero, ErrNoRequest
	}
	return Resolve(req, p)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }
