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
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	*Writer
}

// pid is used for the threadid component of the header.
var pid = strconv.Itoa(os.Getpid())

// Emit emits the message, google-style.
//
// Log lines have this form:
//
//	Lmmdd hh:mm:ss.uuuuuu threadid file:line] msg...
//
// where the fields are defined as follows:
//
//	L                A single character, representing the log level (eg 'I' for INFO)
//	mm               The month (zero padded; ie May is '05')
//	dd               The day (zero padded)
//	hh:mm:ss.uuuuuu  Time in hours, minutes and fractional seconds
//	threadid         The space-padded thread ID as returned by GetTID()
//	file             The file name
//	line             The line number
//	msg              The user-supplied message
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var b strings.Builder
	b.Grow(64 + len(format))

	switch level {
	case Debug:
		b.WriteByte('D')
	case Info:
		b.WriteByte('I')
	default:
		b.WriteByte('W')
	}

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	writeDigits(&b, int(month), 2)
	writeDigits(&b, day, 2)
	b.WriteByte(' ')
	writeDigits(&b, hour, 2)
	b.WriteByte(':')
	writeDigits(&b, minute, 2)
	b.WriteByte(':')
	writeDigits(&b, second, 2)
	b.WriteByte('.')
	writeDigits(&b, timestamp.Nanosecond()/1000, 6)
	b.WriteByte(' ')

	for i := len(pid); i < 7; i++ {
		b.WriteByte(' ')
	}
	b.WriteString(pid)
	b.WriteByte(' ')

	file, line := "x", 0
	if _, f, l, ok := runtime.Caller(depth + 1); ok {
		file, line = trimDir(f), l
	}
	b.WriteString(file)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(line))
	b.WriteString("] ")

	// User-provided format string, copied.
	b.WriteString(format)
	b.WriteByte('\n')

	g.Writer.Emit(depth+1, level, timestamp, b.String(), args...)
}

// writeDigits writes v zero padded to exactly n digits.
func writeDigits(b *strings.Builder, v, n int) {
	var d [8]byte
	for i := n - 1; i >= 0; i-- {
		d[i] = byte('0' + v%10)
		v /= 10
	}
	b.Write(d[:n])
}

// trimDir trims any directory path from file.
func trimDir(file string) string {
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		return file[slash+1:]
	}
	return file
}
