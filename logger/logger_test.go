package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", &buf)

	log.Info().Str("keyset_id", "009a1f293253e41e").Msg("keyset deactivated")

	var output map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &output))
	assert.Equal(t, "keyset deactivated", output["message"])
	assert.Equal(t, "009a1f293253e41e", output["keyset_id"])
	assert.Equal(t, "info", output["level"])
	assert.Contains(t, output, "time")
}

func TestLevels(t *testing.T) {
	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{level: "debug", debugShown: true, infoShown: true},
		{level: "info", debugShown: false, infoShown: true},
		{level: "error", debugShown: false, infoShown: false},
		{level: "bogus", debugShown: false, infoShown: true},
		{level: "", debugShown: false, infoShown: true},
	}

	for _, test := range tests {
		var buf bytes.Buffer
		log := NewWithWriter(test.level, &buf)

		log.Debug().Msg("debug")
		assert.Equal(t, test.debugShown, buf.Len() > 0, "level %q debug", test.level)

		buf.Reset()
		log.Info().Msg("info")
		assert.Equal(t, test.infoShown, buf.Len() > 0, "level %q info", test.level)
	}
}
