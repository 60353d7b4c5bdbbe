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

package utils

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesNameAndFields(t *testing.T) {
	var buf bytes.Buffer
	ConfigureConsoleOutput(&buf)
	t.Cleanup(func() { ConfigureConsoleOutput(os.Stderr) })

	lg := NewLogger("UTILTEST")
	lg.SetFormatter(&Log4jColorFormatter{LoggerName: "UTILTEST", DisableColors: true})
	lg.WithFields(logrus.Fields{"b": 2, "a": 1}).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "UTILTEST :")
	assert.Contains(t, out, "hello a=1 b=2")

	found, ok := LookupLogger("UTILTEST")
	require.True(t, ok)
	assert.Same(t, lg, found)
	assert.Contains(t, LoggerNames(), "UTILTEST")
}

func TestSetLoggerLevel(t *testing.T) {
	lg := NewLogger("LEVELTEST")
	assert.True(t, SetLoggerLevel("LEVELTEST", "error"))
	assert.Equal(t, logrus.ErrorLevel, lg.GetLevel())
	assert.False(t, SetLoggerLevel("MISSING", "debug"))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel(" DEBUG "))
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("chatty"))
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("MAGIC_UTILS_TEST", "yes-no")
	assert.Equal(t, "yes-no", EnvDefaultString("MAGIC_UTILS_TEST", "x"))
	assert.Equal(t, "x", EnvDefaultString("MAGIC_UTILS_UNSET", "x"))

	t.Setenv("MAGIC_UTILS_BOOL", "true")
	assert.True(t, EnvDefaultBool("MAGIC_UTILS_BOOL", false))
	assert.True(t, EnvDefaultBool("MAGIC_UTILS_UNSET", true))
}
