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

// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"hvept.dev/hvept/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by scripts driving eptctl.
var ErrorLogger io.Writer

// Writer writes to log and stderr.
type Writer struct{}

// Write implements io.Writer.
func (i *Writer) Write(data []byte) (n int, err error) {
	log.Warningf("%s", data)
	if n, err = os.Stderr.Write(data); err != nil {
		return n, err
	}
	return len(data), nil
}

type jsonError struct {
	Msg   string    `json:"msg"`
	Level string    `json:"level"`
	Time  time.Time `json:"time"`
}

// Errorf logs error to eptctl log file and to stderr.
func Errorf(format string, args ...any) {
	// If ErrorLogger is set, we don't want to dump to stderr, so only log
	// the error to the log file.
	if ErrorLogger == nil {
		fmt.Fprintf(&Writer{}, format+"\n", args...)
		return
	}
	log.Warningf(format, args...)
	writeError(ErrorLogger, format, args...)
}

func writeError(w io.Writer, format string, args ...any) {
	b, err := json.Marshal(jsonError{
		Msg:   fmt.Sprintf(format, args...),
		Level: "error",
		Time:  time.Now(),
	})
	if err != nil {
		log.Warningf("error marshalling error message: %v", err)
		return
	}
	if _, err := fmt.Fprintln(w, string(b)); err != nil {
		log.Warningf("error writing to error logger: %v", err)
	}
}

// Fatalf logs the same way as Errorf and exits the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}
