// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsdriver

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/hidocu/internal/device"
)

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), bytes.Repeat([]byte{'x'}, size), 0o644))
}

func TestDriver_RequiresOpen(t *testing.T) {
	d := New(t.TempDir(), device.ModelH1)
	ctx := context.Background()

	_, err := d.List(ctx)
	assert.ErrorIs(t, err, device.ErrNotConnected)
	_, err = d.Storage(ctx)
	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.ErrorIs(t, d.KeepAlive(ctx), device.ErrNotConnected)
}

func TestDriver_OpenMissingMount(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "gone"), device.ModelH1)
	_, err := d.Open(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestDriver_OpenReadsIdentity(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, IdentityFile),
		[]byte("serial: HD-P1-0001\nmodel: p1\nfirmware_version: 6.2.5\nfirmware_number: 393733\n"), 0o644))

	sess, err := New(root, device.ModelUnknown).Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "HD-P1-0001", sess.Serial)
	assert.Equal(t, device.ModelP1, sess.Model)
	assert.Equal(t, "6.2.5", sess.FirmwareVersion)
	assert.Equal(t, uint32(393733), sess.FirmwareNumber)
	assert.True(t, sess.Capabilities.BatteryTelemetry)
}

func TestDriver_ListFiltersAndParsesNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "2025May12-143000-Rec01.hda", 300)
	writeFile(t, root, "notes.txt", 10)
	writeFile(t, root, ".hidden.wav", 10)
	writeFile(t, root, "b.wav", 20)
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub.hda"), 0o755))

	d := New(root, device.ModelH1)
	_, err := d.Open(context.Background())
	require.NoError(t, err)

	files, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "2025May12-143000-Rec01.hda", files[0].Name)
	assert.Equal(t, int64(300), files[0].Size)
	assert.Equal(t, "rec", files[0].Mode)
	require.NotNil(t, files[0].CreatedAt)
	assert.Equal(t, 2025, files[0].CreatedAt.Year())
	assert.Equal(t, 14, files[0].CreatedAt.Hour())

	assert.Equal(t, "b.wav", files[1].Name)
	assert.NotNil(t, files[1].CreatedAt)
}

func TestDriver_DownloadReportsProgress(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.hda", copyChunk*2+10)

	d := New(root, device.ModelH1)
	_, err := d.Open(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	var last int64
	calls := 0
	n, err := d.Download(context.Background(), "a.hda", int64(copyChunk*2+10), &buf, func(done, total int64) {
		calls++
		last = done
	})
	require.NoError(t, err)
	assert.Equal(t, int64(copyChunk*2+10), n)
	assert.Equal(t, n, last)
	assert.GreaterOrEqual(t, calls, 3)
	assert.Equal(t, int(n), buf.Len())
}

func TestDriver_DownloadRejectsTraversal(t *testing.T) {
	d := New(t.TempDir(), device.ModelH1)
	_, err := d.Open(context.Background())
	require.NoError(t, err)

	_, err = d.Download(context.Background(), "../etc/passwd", 0, &bytes.Buffer{}, nil)
	assert.Error(t, err)

	_, err = d.Download(context.Background(), "missing.hda", 0, &bytes.Buffer{}, nil)
	assert.ErrorIs(t, err, device.ErrFileNotFound)
}

func TestDriver_DeleteAndBattery(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.hda", 5)
	d := New(root, device.ModelH1)
	_, err := d.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Delete(context.Background(), "a.hda"))
	assert.NoFileExists(t, filepath.Join(root, "a.hda"))
	assert.ErrorIs(t, d.Delete(context.Background(), "a.hda"), device.ErrFileNotFound)

	_, err = d.Battery(context.Background())
	assert.ErrorIs(t, err, device.ErrBatteryUnsupported)
}

func TestDriver_UnmountTearsDown(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vol")
	require.NoError(t, os.Mkdir(root, 0o755))
	d := New(root, device.ModelH1)
	_, err := d.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(root))
	assert.ErrorIs(t, d.KeepAlive(context.Background()), device.ErrNotConnected)
	_, err = d.List(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
}
