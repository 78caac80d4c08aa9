package logger

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// loggerPkg is the import path of this package, whatever the module is named.
var loggerPkg = reflect.TypeOf(Log{}).PkgPath()

// callerHook adjusts the caller reported by logrus so it points
// to the original call site outside of the logger package.
type callerHook struct{}

// Levels returns all log levels for this hook.
func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire sets the entry's Caller to the first frame outside of logrus
// and this package.
func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	// Skip runtime.Callers, this method, logrus internals and our wrappers.
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		if isWrapperFrame(frame) {
			continue
		}
		entry.Caller = &frame
		break
	}
	return nil
}

// isWrapperFrame reports frames inside logrus or this package's wrappers.
// Tests of this package count as call sites.
func isWrapperFrame(f runtime.Frame) bool {
	if strings.Contains(f.Function, "sirupsen/logrus") {
		return true
	}
	return strings.HasPrefix(f.Function, loggerPkg+".") && !strings.HasSuffix(f.File, "_test.go")
}
