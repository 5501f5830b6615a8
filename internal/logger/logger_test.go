package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() {
		_, _ = SetOutput("stdout")
		SetLevel("INFO")
		SetFormat("text")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel("WARN")

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown 2")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	SetFormat("json")

	Error("disk %s", "gone")

	var line map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "disk gone", line["msg"])
}

func TestBadgerAdapterDemotesInfo(t *testing.T) {
	buf := capture(t)
	SetLevel("INFO")

	Badger().Infof("compaction done\n")
	Badger().Warningf("value log %s\n", "full")

	assert.NotContains(t, buf.String(), "compaction")
	assert.Contains(t, buf.String(), "badger: value log full")
}
