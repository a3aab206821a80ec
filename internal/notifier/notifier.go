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

// Package notifier surfaces user-facing events (a successful mount, a
// malformed document on flush) the way the original tool's notify() call
// did -- a desktop notification when one is available, a log line always.
// It is injected into the components that need it (internal/openfile, the
// mount adapter) rather than called as a global, so that tests can assert
// on what would have been shown without touching the desktop.
package notifier

import (
	"os/exec"

	"github.com/paulo-raca/mongofs/internal/logger"
)

// Notifier is the interface internal/openfile and the mount adapter depend
// on.
type Notifier interface {
	Notify(title, message string)
}

// Desktop attempts a desktop notification via notify-send (the same
// mechanism the original tool's pynotify-based notify() used on Linux
// desktops) and always logs, so headless mounts still surface the event.
type Desktop struct{}

func (Desktop) Notify(title, message string) {
	logger.Infof("%s: %s", title, message)

	cmd := exec.Command("notify-send", title, message)
	_ = cmd.Run() // best-effort; no desktop notification daemon is not an error
}

// Null discards notifications, logging only. Useful for tests and for
// mounts that explicitly disable desktop notifications.
type Null struct{}

func (Null) Notify(title, message string) {
	logger.Infof("%s: %s", title, message)
}

var _ Notifier = Desktop{}
var _ Notifier = Null{}
