// src/services/emitter.go
package services

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// LogEmitter writes lifecycle events as log lines with a fixed vocabulary.
// The message tokens are stable so the dashboard (or anything tailing a run
// log) can parse them; everything else rides along as attributes.
type LogEmitter struct {
	log *slog.Logger
}

func NewLogEmitter(log *slog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) TransferStart(seq int) {
	e.log.Info(fmt.Sprintf("TRANSFE_START:%d", seq))
}

func (e *LogEmitter) TransferDone(seq int, origin string) {
	e.log.Info(fmt.Sprintf("TRANSFE_DONE:%d", seq), "origin", origin)
}

func (e *LogEmitter) TransferFailed(seq int, kind, detail string) {
	e.log.Warn(fmt.Sprintf("TRANSFE_FAILED:%d", seq), "kind", kind, "detail", detail)
}

func (e *LogEmitter) PassDone(pass int, done, failed []int) {
	e.log.Info(fmt.Sprintf("PASS_DONE:%d", pass),
		"succeeded", formatSeqSet(done), "failed", formatSeqSet(failed))
}

// formatSeqSet renders a sequence set as "{1,3}" so a consumer tailing the
// run log can tell which items succeeded and which are still failed.
func formatSeqSet(seqs []int) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, seq := range seqs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(seq))
	}
	b.WriteByte('}')
	return b.String()
}

func (e *LogEmitter) Debug(msg string, args ...any) {
	e.log.Debug(msg, args...)
}
