// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "pcm_s16le", "sample_rate": "48000", "channels": 2, "duration": "12.500000"}
  ],
  "format": {"duration": "12.500000", "format_name": "wav"}
}`

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(sampleProbe))
	require.NoError(t, err)
	assert.Equal(t, Info{DurationSeconds: 12.5, Codec: "pcm_s16le", SampleRate: 48000, Channels: 2, Container: "wav"}, info)
}

func TestParseProbe_FormatDurationFallback(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"3.25","format_name":"mp3,mp2"}}`))
	require.NoError(t, err)
	assert.InDelta(t, 3.25, info.DurationSeconds, 0.0001)
	assert.Equal(t, "mp3", info.Container)
}

func TestParseProbe_Rejects(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams":[{"codec_type":"video","codec_name":"h264"}],"format":{}}`))
	assert.Error(t, err)
	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestProbe_UnsupportedExtension(t *testing.T) {
	p := NewProber("/does/not/exist")
	_, err := p.Probe(context.Background(), "/tmp/2025May12-143000-Rec01.hda")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestProbe_RunsBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "ffprobe")
	payload := filepath.Join(dir, "out.json")
	require.NoError(t, os.WriteFile(payload, []byte(sampleProbe), 0o600))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat "+payload+"\n"), 0o755))

	info, err := NewProber(script).Probe(context.Background(), filepath.Join(dir, "a.wav"))
	require.NoError(t, err)
	assert.InDelta(t, 12.5, info.DurationSeconds, 0.0001)
}

func TestProbe_MissingBinary(t *testing.T) {
	_, err := NewProber(filepath.Join(t.TempDir(), "missing")).Probe(context.Background(), "x.wav")
	assert.Error(t, err)
}

func TestProbe_CancelKillsHelperChildren(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "ffprobe")
	// the child keeps stdout open; only a group kill ends Output early
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 100 &\nsleep 100\n"), 0o755))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewProber(script).Probe(ctx, filepath.Join(dir, "a.wav"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), waitDelay)
}
