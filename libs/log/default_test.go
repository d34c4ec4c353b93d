package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultLogger(t *testing.T) {
	testCases := map[string]struct {
		format    string
		level     string
		expectErr bool
	}{
		"invalid format": {
			format:    "foo",
			level:     LogLevelInfo,
			expectErr: true,
		},
		"invalid level": {
			format:    LogFormatJSON,
			level:     "foo",
			expectErr: true,
		},
		"valid format and level": {
			format:    LogFormatJSON,
			level:     LogLevelInfo,
			expectErr: false,
		},
	}

	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			_, err := NewDefaultLogger(tc.format, tc.level)
			if tc.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefaultLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newDefaultLogger(&buf, LogFormatJSON, LogLevelInfo)
	require.NoError(t, err)

	logger.Debug("dropped")
	assert.Zero(t, buf.Len())

	logger.Info("kept", "height", 42)
	assert.True(t, strings.Contains(buf.String(), "kept"))
	assert.True(t, strings.Contains(buf.String(), "height"))
}
