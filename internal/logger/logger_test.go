// Copyright 2024 The mongofs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, ParseLevel("trace"))
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarning, ParseLevel("warn"))
	assert.Equal(t, LevelOff, ParseLevel("OFF"))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestTextFormatRendersSeverityName(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "text", LevelInfo)
	defer Init(&buf, "text", LevelInfo)

	Infof("hello %s", "world")

	assert.Contains(t, buf.String(), "severity=INFO")
	assert.Contains(t, buf.String(), "hello world")
}

func TestJSONFormatRendersSeverityField(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "json", LevelInfo)

	Warnf("careful")

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "WARNING", payload["severity"])
	assert.Equal(t, "careful", payload["msg"])
}

func TestLevelThresholdSuppressesBelow(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "text", LevelWarning)

	Infof("should not appear")
	Errorf("should appear")

	assert.False(t, strings.Contains(buf.String(), "should not appear"))
	assert.True(t, strings.Contains(buf.String(), "should appear"))
}

func TestOffSuppressesEverything(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "text", LevelOff)

	Errorf("nothing should be logged")

	assert.Empty(t, buf.String())
}

func TestNewStdLoggerRoutesIntoDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "text", LevelInfo)

	std := NewStdLogger("fuse: ", LevelError)
	std.Print("boom")

	assert.Contains(t, buf.String(), "severity=ERROR")
	assert.Contains(t, buf.String(), "boom")
}
