package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	l := NewNoop()
	assert.NotPanics(t, func() {
		l.Debug("debug", String("k", "v"))
		l.Info("info", Int("n", 1))
		l.Warn("warn")
		l.Error("error", Err(assertErr("boom")))
	})
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
