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
	"fmt"

	"github.com/tomoncle/magic/types"
)

// Mode selects the execution mode of an engine and its sessions.
type Mode int

const (
	ModeSync Mode = iota
	ModeAsync
)

var _ types.BaseEnum = ModeSync

func (m Mode) IsValid() bool { return m == ModeSync || m == ModeAsync }

func (m Mode) Number() int {
	if !m.IsValid() {
		return types.IllegalValue
	}
	return int(m)
}

func (m Mode) Name() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return types.IllegalName
	}
}

func (m Mode) String() string { return m.Name() }

func (m Mode) Desc() string {
	switch m {
	case ModeSync:
		return "blocking execution on the calling goroutine"
	case ModeAsync:
		return "execution on a dedicated goroutine, cancelled through the caller's context"
	default:
		return types.IllegalDesc
	}
}

// ParseMode accepts "sync" or "async" in any case.
func ParseMode(s string) (Mode, error) {
	if m, ok := types.ParseEnum(s, ModeSync, ModeAsync); ok {
		return m, nil
	}
	return Mode(types.IllegalValue), fmt.Errorf("%w: unknown mode %q", ErrUnsupportedMode, s)
}
