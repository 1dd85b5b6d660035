// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsdriver exposes a recorder mounted in mass-storage mode as a device.Driver.
package fsdriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
)

// IdentityFile is read from the volume root when present.
const IdentityFile = ".hidocu-device.yaml"

const copyChunk = 64 * 1024

var audioExtensions = map[string]bool{
	".hda": true, ".wav": true, ".mp3": true, ".m4a": true, ".ogg": true, ".flac": true,
}

// recorder names look like 2025May12-143000-Rec01.hda
var recordingName = regexp.MustCompile(`^(\d{4}[A-Za-z]{3}\d{2}-\d{6})-([A-Za-z]+)\d*$`)

type identity struct {
	Serial          string `yaml:"serial"`
	Model           string `yaml:"model"`
	FirmwareVersion string `yaml:"firmware_version"`
	FirmwareNumber  uint32 `yaml:"firmware_number"`
}

// Driver implements device.Driver over a mounted directory.
// It is not safe for concurrent use.
type Driver struct {
	root  string
	model device.Model
	open  bool
}

// New returns a driver for the volume mounted at root. model is used when the
// volume carries no identity file.
func New(root string, model device.Model) *Driver {
	if model == "" {
		model = device.ModelUnknown
	}
	return &Driver{root: root, model: model}
}

func (d *Driver) Open(ctx context.Context) (device.Session, error) {
	if err := ctx.Err(); err != nil {
		return device.Session{}, err
	}
	st, err := os.Stat(d.root)
	if err != nil {
		return device.Session{}, fmt.Errorf("%w: mount %s: %v", device.ErrNotConnected, d.root, err)
	}
	if !st.IsDir() {
		return device.Session{}, fmt.Errorf("%w: mount %s is not a directory", device.ErrNotConnected, d.root)
	}

	sess := device.Session{
		Serial: filepath.Base(filepath.Clean(d.root)),
		Model:  d.model,
	}
	id, err := readIdentity(filepath.Join(d.root, IdentityFile))
	switch {
	case err == nil:
		if id.Serial != "" {
			sess.Serial = id.Serial
		}
		if m := device.ParseModel(id.Model); m != device.ModelUnknown {
			sess.Model = m
		}
		sess.FirmwareVersion = id.FirmwareVersion
		sess.FirmwareNumber = id.FirmwareNumber
	case errors.Is(err, fs.ErrNotExist):
	default:
		logger := log.WithComponent("fsdriver")
		logger.Warn().Err(err).Str(log.FieldPath, d.root).Msg("ignoring unreadable identity file")
	}
	sess.Capabilities = sess.Model.Capabilities()
	d.open = true
	return sess, nil
}

func readIdentity(path string) (identity, error) {
	var id identity
	f, err := os.Open(path)
	if err != nil {
		return id, err
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&id); err != nil && !errors.Is(err, io.EOF) {
		return id, fmt.Errorf("parse %s: %w", path, err)
	}
	return id, nil
}

func (d *Driver) Close(context.Context) error {
	d.open = false
	return nil
}

func (d *Driver) check() error {
	if !d.open {
		return device.ErrNotConnected
	}
	if _, err := os.Stat(d.root); err != nil {
		d.open = false
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	}
	return nil
}

func (d *Driver) List(ctx context.Context) ([]device.RemoteFile, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, &device.TransportError{Op: "list", Err: err}
	}
	out := make([]device.RemoteFile, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !audioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, describe(e.Name(), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func describe(name string, info fs.FileInfo) device.RemoteFile {
	rf := device.RemoteFile{Name: name, Size: info.Size()}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if m := recordingName.FindStringSubmatch(stem); m != nil {
		if ts, err := time.ParseInLocation("2006Jan02-150405", m[1], time.Local); err == nil {
			rf.CreatedAt = &ts
		}
		rf.Mode = strings.ToLower(m[2])
	}
	if rf.CreatedAt == nil {
		mt := info.ModTime()
		rf.CreatedAt = &mt
	}
	return rf
}

func (d *Driver) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid device file name %q", name)
	}
	return filepath.Join(d.root, name), nil
}

func (d *Driver) Download(ctx context.Context, name string, size int64, w io.Writer, progress device.ProgressFunc) (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	p, err := d.path(name)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", device.ErrFileNotFound, name)
		}
		return 0, &device.TransportError{Op: "download", Err: err}
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, copyChunk)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return done, werr
			}
			done += int64(n)
			if progress != nil {
				progress(done, size)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return done, nil
		}
		if rerr != nil {
			return done, &device.TransportError{Op: "download", Err: rerr}
		}
	}
}

func (d *Driver) Delete(_ context.Context, name string) error {
	if err := d.check(); err != nil {
		return err
	}
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", device.ErrFileNotFound, name)
		}
		return &device.TransportError{Op: "delete", Err: err}
	}
	return nil
}

func (d *Driver) Battery(context.Context) (device.BatteryStatus, error) {
	if err := d.check(); err != nil {
		return device.BatteryStatus{}, err
	}
	return device.BatteryStatus{}, device.ErrBatteryUnsupported
}

func (d *Driver) Storage(context.Context) (device.StorageInfo, error) {
	if err := d.check(); err != nil {
		return device.StorageInfo{}, err
	}
	info, err := statfs(d.root)
	if err != nil {
		return device.StorageInfo{}, &device.TransportError{Op: "storage", Err: err}
	}
	return info, nil
}

func (d *Driver) KeepAlive(context.Context) error {
	return d.check()
}
