// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestConfigure_AttachesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "hidocu-test", Version: "v9.9.9"})
	t.Cleanup(func() { Configure(Config{Output: os.Stderr}) })

	l := WithComponent("transport")
	l.Info().Str(FieldEvent, "test.event").Msg("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "hidocu-test", entry["service"])
	assert.Equal(t, "v9.9.9", entry["version"])
	assert.Equal(t, "transport", entry[FieldComponent])
	assert.Equal(t, "test.event", entry[FieldEvent])
}

func TestConfigure_CanBeCalledTwice(t *testing.T) {
	var first, second bytes.Buffer
	Configure(Config{Output: &first})
	Configure(Config{Output: &second, Service: "second"})
	t.Cleanup(func() { Configure(Config{Output: os.Stderr}) })

	L().Info().Msg("after reconfigure")

	assert.Zero(t, first.Len())
	entry := decodeLine(t, &second)
	assert.Equal(t, "second", entry["service"])
}

func TestConfigure_RotatingFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "hidocu.log")
	Configure(Config{Output: &buf, File: path})
	t.Cleanup(func() { Configure(Config{Output: os.Stderr}) })

	L().Info().Msg("to both sinks")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both sinks")
	assert.Contains(t, buf.String(), "to both sinks")
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	require.NoError(t, SetLevel("warn"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestDerive(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{Output: os.Stderr}) })

	l := Derive(func(c *zerolog.Context) {
		*c = c.Str(FieldDeviceSerial, "HD1-0042")
	})
	l.Info().Msg("derived")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "HD1-0042", entry[FieldDeviceSerial])
}
