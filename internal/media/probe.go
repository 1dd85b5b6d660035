// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media reads audio metadata from local files.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/procgroup"
)

// ErrUnsupportedFormat is returned for files the prober does not attempt to read,
// such as the recorder's proprietary .hda container.
var ErrUnsupportedFormat = errors.New("media: unsupported format")

const (
	maxStderr = 4096
	waitDelay = 2 * time.Second
)

// Info is the subset of probe output the catalog uses.
type Info struct {
	DurationSeconds float64
	Codec           string
	SampleRate      int
	Channels        int
	Container       string
}

// Prober runs ffprobe.
type Prober struct {
	Binary string
	logger zerolog.Logger
}

// NewProber returns a prober using binary, or "ffprobe" when empty.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{Binary: binary, logger: log.WithComponent("media")}
}

var probeable = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".opus": true,
	".flac": true,
}

// Supported reports whether path has an extension the prober will read.
func Supported(path string) bool {
	return probeable[strings.ToLower(filepath.Ext(path))]
}

// Probe returns audio metadata for path.
func (p *Prober) Probe(ctx context.Context, path string) (Info, error) {
	if !Supported(path) {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	// #nosec G204 -- binary comes from configuration, path is passed as a single argument
	cmd := exec.CommandContext(ctx, p.Binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	procgroup.Bind(cmd, waitDelay)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, runErr := cmd.Output()
	info, parseErr := parseProbe(out)
	if parseErr == nil {
		if runErr != nil {
			// Partial files can exit non-zero but still produce usable JSON.
			p.logger.Warn().Err(runErr).Str(log.FieldPath, path).Str("stderr", truncate(stderr.String())).
				Msg("ffprobe non-zero exit but JSON accepted")
		}
		return info, nil
	}
	if runErr != nil {
		return Info{}, fmt.Errorf("ffprobe failed: %w (stderr: %s)", runErr, truncate(stderr.String()))
	}
	return Info{}, parseErr
}

type probeData struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate,omitempty"`
		Channels   int    `json:"channels,omitempty"`
		Duration   string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func parseProbe(out []byte) (Info, error) {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return Info{}, fmt.Errorf("json decode: %w", err)
	}

	var info Info
	found := false
	for _, s := range data.Streams {
		if s.CodecType != "audio" || s.CodecName == "" {
			continue
		}
		found = true
		info.Codec = s.CodecName
		info.Channels = s.Channels
		if v, err := strconv.Atoi(s.SampleRate); err == nil {
			info.SampleRate = v
		}
		if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
		break
	}
	if !found {
		return Info{}, errors.New("ffprobe returned no audio stream")
	}
	if info.DurationSeconds == 0 && data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			info.DurationSeconds = d
		}
	}
	if name, _, _ := strings.Cut(data.Format.FormatName, ","); name != "" {
		info.Container = strings.TrimSpace(name)
	}
	return info, nil
}

func truncate(s string) string {
	if len(s) > maxStderr {
		return s[:maxStderr] + "..."
	}
	return s
}
