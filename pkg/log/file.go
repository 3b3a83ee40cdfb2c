// Copyright 2026 The gVisor Authors.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FilePattern expands the variables of a log file pattern:
//
//	%COMMAND%   the eptctl subcommand
//	%TIMESTAMP% the start time, as yyyymmdd-hhmmss.uuuuuu
//	%PID%       the process id
type FilePattern struct {
	Command string
	Start   time.Time
}

// Build constructs the log file path based on the given pattern.
func (p FilePattern) Build(logPattern string) string {
	r := strings.NewReplacer(
		"%COMMAND%", p.Command,
		"%TIMESTAMP%", p.Start.Format("20060102-150405.000000"),
		"%PID%", strconv.Itoa(os.Getpid()),
	)
	return r.Replace(logPattern)
}

// OpenFile opens a log file using the specified flags. It uses `logPattern`
// as the path, expanded by `pattern`. The parent directory is created if it
// does not exist.
//
// A nil file and nil error are returned if the pattern is empty.
func OpenFile(logPattern string, flags int, pattern FilePattern) (*os.File, error) {
	if len(logPattern) == 0 {
		return nil, nil
	}

	logPath := pattern.Build(logPattern)

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %w", dir, err)
	}

	f, err := os.OpenFile(logPath, flags, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %w", logPath, err)
	}
	return f, nil
}
