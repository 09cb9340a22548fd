package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"e": Error, "WARN": Warn, "info": Info, "D": Debug, "trace": MaxLevel, "5": Level(5),
	} {
		got, err := parseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
	_, err = parseLevel("12")
	assert.Error(t, err)
}

func TestLoggerFiltersByLevel(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	log := &Logger{Warn, "test", &out, new(sync.Mutex)}

	log.Info("hidden")
	log.Warn("shown %d", 1)

	s := out.String()
	assert.NotContains(t, s, "hidden")
	assert.Contains(t, s, "W/test[logger_test.go:")
	assert.True(t, strings.HasSuffix(s, "shown 1\n"))
}

func TestTagLevels(t *testing.T) {
	saved := tagLevels
	defer func() { tagLevels = saved }()

	require.NoError(t, Configure("decoder=debug"))
	log := DefaultLogger.WithTag("decoder")
	assert.Equal(t, Debug, log.Level)
	assert.True(t, log.Enabled(Debug))
	assert.False(t, log.Enabled(Level(5)))
}
