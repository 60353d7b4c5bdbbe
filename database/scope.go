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

package database

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScopedSession owns one Session from Enter to Exit. On Exit the session is
// committed when the scope ended cleanly and commit is enabled, rolled back
// when it ended with an error, and closed in every case. A scope is single
// use.
type ScopedSession interface {
	Mode() Mode
	// Commits reports whether a cleanly ended scope commits.
	Commits() bool
	// Enter opens the session.
	Enter(ctx context.Context) (*Session, error)
	// Exit ends the scope. cause is the error the body ended with, or nil.
	// A non-nil cause is returned unchanged.
	Exit(cause error) error
	// Run wraps fn in Enter and Exit.
	Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) error
}

// AsyncScopedSession runs the scope body on its own goroutine so that the
// caller's context can abandon it.
type AsyncScopedSession interface {
	ScopedSession
	// Go starts Run in the background.
	Go(ctx context.Context, fn func(ctx context.Context, s *Session) error) *Future[struct{}]
}

type ScopeOption func(*scopeOptions)

type scopeOptions struct {
	commit         bool
	sessionOptions map[string]any
}

func defaultScopeOptions() scopeOptions {
	return scopeOptions{commit: true}
}

// WithCommit sets whether a cleanly ended scope commits. Defaults to true.
func WithCommit(commit bool) ScopeOption {
	return func(o *scopeOptions) { o.commit = commit }
}

// WithSessionOptions layers per-scope session options over the factory's.
func WithSessionOptions(opts map[string]any) ScopeOption {
	return func(o *scopeOptions) {
		if o.sessionOptions == nil {
			o.sessionOptions = map[string]any{}
		}
		maps.Copy(o.sessionOptions, opts)
	}
}

const (
	outcomeCommit       = "commit"
	outcomeCommitFailed = "commit_failed"
	outcomeNoCommit     = "no_commit"
	outcomeRollback     = "rollback"
)

type scope struct {
	factory *SessionFactory
	opts    scopeOptions
	logger  Logger
	tracer  trace.Tracer
	metrics *Metrics

	mu      sync.Mutex
	session *Session
	span    trace.Span
	started time.Time
	entered bool
	exited  bool
}

func newScope(factory *SessionFactory, logger Logger, tracer trace.Tracer, metrics *Metrics, opts ...ScopeOption) *scope {
	o := defaultScopeOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &scope{factory: factory, opts: o, logger: logger, tracer: tracer, metrics: metrics}
}

// NewScopedSession builds a scope over factory. Async mode factories get an
// AsyncScopedSession.
func NewScopedSession(factory *SessionFactory, logger Logger, opts ...ScopeOption) ScopedSession {
	return newScopedSession(factory, logger, nil, nil, opts...)
}

func newScopedSession(factory *SessionFactory, logger Logger, tracer trace.Tracer, metrics *Metrics, opts ...ScopeOption) ScopedSession {
	base := newScope(factory, logger, tracer, metrics, opts...)
	if factory.Mode() == ModeAsync {
		return &asyncScope{scope: base}
	}
	return &syncScope{scope: base}
}

func (s *scope) Mode() Mode { return s.factory.Mode() }

func (s *scope) Commits() bool { return s.opts.commit }

func (s *scope) Enter(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil, ErrScopeExited
	}
	if s.entered {
		return nil, ErrScopeEntered
	}

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "magic.scope",
			trace.WithAttributes(
				attribute.String("magic.mode", s.Mode().Name()),
				attribute.Bool("magic.commit", s.opts.commit),
			),
		)
	}

	session, err := s.factory.NewWith(ctx, s.opts.sessionOptions)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
		}
		return nil, err
	}
	s.session = session
	s.span = span
	s.started = time.Now()
	s.entered = true
	return session, nil
}

func (s *scope) Exit(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entered {
		return ErrScopeNotEntered
	}
	if s.exited {
		return ErrScopeExited
	}
	s.exited = true

	outcome, err := s.finish(cause)
	s.metrics.ObserveScope(s.Mode(), outcome, time.Since(s.started))
	if s.span != nil {
		s.span.SetAttributes(
			attribute.String("magic.session_id", s.session.ID()),
			attribute.String("magic.outcome", outcome),
		)
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		} else {
			s.span.SetStatus(codes.Ok, "")
		}
		s.span.End()
	}
	return err
}

func (s *scope) finish(cause error) (string, error) {
	session := s.session
	if cause != nil {
		s.rollback(session, cause)
		s.close(session, cause)
		return outcomeRollback, cause
	}

	outcome := outcomeNoCommit
	if s.opts.commit && session.Active() {
		if err := session.Commit(); err != nil {
			s.rollback(session, err)
			s.close(session, err)
			return outcomeCommitFailed, err
		}
		outcome = outcomeCommit
	}
	if err := session.Close(); err != nil {
		return outcome, fmt.Errorf("failed to close %s session: %w", session.Mode(), err)
	}
	return outcome, nil
}

// rollback and close are used once an error is already on its way to the
// caller; their own failures are only logged.
func (s *scope) rollback(session *Session, cause error) {
	if err := session.Rollback(); err != nil {
		_, kind := ClassifyError(err)
		s.logger.Warn("Session rollback failed",
			"session_id", session.ID(),
			"mode", session.Mode(),
			"kind", kind,
			"error", err,
			"cause", cause,
		)
	}
}

func (s *scope) close(session *Session, cause error) {
	if err := session.Close(); err != nil {
		s.logger.Error("Session close failed",
			"session_id", session.ID(),
			"mode", session.Mode(),
			"error", err,
			"cause", cause,
		)
	}
}

// syncScope runs the body on the calling goroutine.
type syncScope struct {
	*scope
}

func (s *syncScope) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	session, err := s.Enter(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = s.Exit(fmt.Errorf("panic in %s scope: %v", s.Mode(), r))
			panic(r)
		}
	}()
	return s.Exit(fn(ctx, session))
}

// asyncScope runs the body on its own goroutine. When ctx is done before the
// body returns, the scope exits with ctx.Err() right away and the body's
// further use of the session fails.
type asyncScope struct {
	*scope
}

func (s *asyncScope) Run(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	session, err := s.Enter(ctx)
	if err != nil {
		return err
	}

	body := Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, session)
	})
	if bodyFinished(ctx, body) {
		return s.finishBody(body)
	}
	cause := ctx.Err()
	_ = s.Exit(cause)
	return cause
}

// bodyFinished waits for body or ctx. A body that has returned wins even when
// ctx is done as well.
func bodyFinished[T any](ctx context.Context, body *Future[T]) bool {
	select {
	case <-body.Done():
		return true
	case <-ctx.Done():
		select {
		case <-body.Done():
			return true
		default:
			return false
		}
	}
}

func (s *asyncScope) finishBody(body *Future[struct{}]) error {
	if r := body.recovered(); r != nil {
		_ = s.Exit(r.AsError())
		panic(r)
	}
	_, err := body.Get()
	return s.Exit(err)
}

func (s *asyncScope) Go(ctx context.Context, fn func(ctx context.Context, s *Session) error) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Run(ctx, fn)
	})
}
