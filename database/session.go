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
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EventKind int

const (
	EventBegin EventKind = iota
	EventCommit
	EventRollback
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventCommit:
		return "commit"
	case EventRollback:
		return "rollback"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// SessionEvent is delivered to listeners after each lifecycle step. Err is
// the outcome of that step.
type SessionEvent struct {
	Kind      EventKind
	SessionID string
	Mode      Mode
	Err       error
	At        time.Time
}

type SessionListener interface {
	OnSessionEvent(ctx context.Context, ev SessionEvent)
}

type SessionListenerFunc func(ctx context.Context, ev SessionEvent)

func (f SessionListenerFunc) OnSessionEvent(ctx context.Context, ev SessionEvent) { f(ctx, ev) }

type sessionState int

const (
	stateActive sessionState = iota
	stateCommitted
	stateRolledBack
	stateClosed
)

// Session is one unit of work: a transaction on the engine of its mode. The
// embedded bun.Tx provides the query builders. A Session is not safe for
// concurrent mutation; share it only between sequential users.
type Session struct {
	bun.Tx

	id        string
	mode      Mode
	engine    *Engine
	options   SessionOptions
	ctx       context.Context
	listeners []SessionListener
	openedAt  time.Time

	mu    sync.Mutex
	state sessionState
}

func (s *Session) ID() string { return s.id }

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) Engine() *Engine { return s.engine }

func (s *Session) Options() SessionOptions { return s.options }

func (s *Session) OpenedAt() time.Time { return s.openedAt }

// IDB exposes the session as a bun.IDB for code written against bun directly.
func (s *Session) IDB() bun.IDB { return &s.Tx }

// Active reports whether the transaction is still open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateClosed
}

// Commit commits the unit of work. After a successful commit the session
// stays open but has no active transaction.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateClosed:
		return ErrSessionClosed
	case stateActive:
	default:
		return fmt.Errorf("commit: %w", sql.ErrTxDone)
	}

	err := s.Tx.Commit()
	if err == nil {
		s.state = stateCommitted
	}
	s.emit(EventCommit, err)
	return err
}

// Rollback aborts the unit of work. Rolling back a finished transaction is a
// no-op.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	switch s.state {
	case stateClosed:
		return ErrSessionClosed
	case stateActive:
	default:
		return nil
	}

	err := s.Tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		// already ended by the driver, e.g. after context cancellation
		err = nil
	}
	// database/sql marks the transaction done even when the driver fails
	s.state = stateRolledBack
	s.emit(EventRollback, err)
	return err
}

// Close releases the session, discarding any uncommitted work. Only the first
// call does anything.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}

	var err error
	if s.state == stateActive {
		err = s.rollbackLocked()
	}
	s.state = stateClosed
	s.emit(EventClose, err)
	return err
}

func (s *Session) emit(kind EventKind, err error) {
	if len(s.listeners) == 0 {
		return
	}
	ev := SessionEvent{Kind: kind, SessionID: s.id, Mode: s.mode, Err: err, At: time.Now()}
	ctx := context.WithoutCancel(s.ctx)
	for _, l := range s.listeners {
		l.OnSessionEvent(ctx, ev)
	}
}

// SessionFactory produces sessions bound to one engine.
type SessionFactory struct {
	engine     *Engine
	rawOptions map[string]any
	options    SessionOptions
	listeners  []SessionListener
	logger     Logger
}

func NewSessionFactory(engine *Engine, sessionOptions map[string]any, logger Logger, listeners ...SessionListener) (*SessionFactory, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: session factory requires an engine", ErrConfiguration)
	}
	opts, err := DecodeSessionOptions(sessionOptions)
	if err != nil {
		return nil, err
	}
	if _, err := opts.TxOptions(engine.options.IsolationLevel); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = GetLogger()
	}
	if len(opts.Extra) > 0 {
		logger.Debug("Session options not interpreted by the bun provider", "mode", engine.mode, "keys", sortedKeys(opts.Extra))
	}
	return &SessionFactory{
		engine:     engine,
		rawOptions: cloneOptions(sessionOptions),
		options:    opts,
		listeners:  listeners,
		logger:     logger,
	}, nil
}

func (f *SessionFactory) Engine() *Engine { return f.engine }

func (f *SessionFactory) Mode() Mode { return f.engine.mode }

func (f *SessionFactory) Options() SessionOptions { return f.options }

func (f *SessionFactory) RawOptions() map[string]any { return maps.Clone(f.rawOptions) }

// New begins a fresh session with the factory options.
func (f *SessionFactory) New(ctx context.Context) (*Session, error) {
	return f.newSession(ctx, f.options)
}

// NewWith begins a fresh session with overrides layered over the factory
// options.
func (f *SessionFactory) NewWith(ctx context.Context, overrides map[string]any) (*Session, error) {
	if len(overrides) == 0 {
		return f.New(ctx)
	}
	opts, err := DecodeSessionOptions(f.rawOptions, overrides)
	if err != nil {
		return nil, err
	}
	return f.newSession(ctx, opts)
}

func (f *SessionFactory) newSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	txOpts, err := opts.TxOptions(f.engine.options.IsolationLevel)
	if err != nil {
		return nil, err
	}
	tx, err := f.engine.db.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin %s session: %w", f.engine.mode, err)
	}
	s := &Session{
		Tx:        tx,
		id:        uuid.NewString(),
		mode:      f.engine.mode,
		engine:    f.engine,
		options:   opts,
		ctx:       ctx,
		listeners: f.listeners,
		openedAt:  time.Now(),
	}
	s.emit(EventBegin, nil)
	f.logger.Debug("Session opened", "session_id", s.id, "mode", s.mode)
	return s, nil
}
