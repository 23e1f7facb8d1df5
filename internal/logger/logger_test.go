package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs(t *testing.T) {
	tests := []struct {
		name string
		in   []interface{}
		want []interface{}
	}{
		{"empty", nil, nil},
		{"plain", []interface{}{"round", 1}, []interface{}{"round", 1}},
		{"redacts api key", []interface{}{"api_key", "sk-123", "model", "m"}, []interface{}{"api_key", "[REDACTED]", "model", "m"}},
		{"case insensitive", []interface{}{"Auth_Token", "x"}, []interface{}{"Auth_Token", "[REDACTED]"}},
		{"dangling key kept", []interface{}{"a", 1, "b"}, []interface{}{"a", 1, "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeKVs(tt.in))
		})
	}
}

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("round", 2).Info("candidate scored", "score", 1.5, "secret", "hidden")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "candidate scored", entries[0].Message)
		assert.EqualValues(t, 2, fields["round"])
		assert.Equal(t, 1.5, fields["score"])
		assert.Equal(t, "[REDACTED]", fields["secret"])
	}
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
}
