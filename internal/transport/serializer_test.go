// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/device/devicetest"
)

func newFake() *devicetest.Driver {
	drv := devicetest.New(device.Session{Serial: "P1-0001", Model: device.ModelP1, FirmwareVersion: "6.2.5"})
	drv.AddFile(device.RemoteFile{Name: "a.hda"}, bytes.Repeat([]byte{'a'}, 10_000))
	return drv
}

func newSerializer(t *testing.T, drv device.Driver, opts Options) *Serializer {
	t.Helper()
	s := New(drv, opts)
	t.Cleanup(s.Close)
	return s
}

func TestSerializer_OperationsRequireSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	drv := newFake()
	s := New(drv, Options{})
	defer s.Close()
	ctx := context.Background()

	_, err := s.ListFiles(ctx)
	assert.ErrorIs(t, err, device.ErrNotConnected)
	_, err = s.DownloadFile(ctx, "a.hda", 10_000, filepath.Join(t.TempDir(), "x"), nil)
	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.ErrorIs(t, s.DeleteFile(ctx, "a.hda"), device.ErrNotConnected)
	_, err = s.BatteryStatus(ctx)
	assert.ErrorIs(t, err, device.ErrNotConnected)
	_, err = s.StorageInfo(ctx)
	assert.ErrorIs(t, err, device.ErrNotConnected)

	assert.Zero(t, drv.Calls(devicetest.OpList), "driver must not be reached without a session")
}

func TestSerializer_ConnectReturnsLiveSession(t *testing.T) {
	drv := newFake()
	s := newSerializer(t, drv, Options{})

	first, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "P1-0001", first.Serial)
	assert.True(t, first.Capabilities.BatteryTelemetry)

	second, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, drv.Calls(devicetest.OpOpen))

	got, ok := s.Session()
	assert.True(t, ok)
	assert.Equal(t, first, got)
}

func TestSerializer_ConnectFailureIsNotConnected(t *testing.T) {
	drv := newFake()
	drv.FailNext(devicetest.OpOpen, errors.New("LIBUSB_ERROR_BUSY"))
	s := newSerializer(t, drv, Options{})

	_, err := s.Connect(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.Contains(t, err.Error(), "LIBUSB_ERROR_BUSY")
	_, ok := s.Session()
	assert.False(t, ok)
}

func TestSerializer_DisconnectIsIdempotent(t *testing.T) {
	drv := newFake()
	s := newSerializer(t, drv, Options{})

	require.NoError(t, s.Disconnect(context.Background()))
	assert.Zero(t, drv.Calls(devicetest.OpClose))

	_, err := s.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Disconnect(context.Background()))
	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, 1, drv.Calls(devicetest.OpClose))

	_, err = s.ListFiles(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestSerializer_DownloadStreamsToDestination(t *testing.T) {
	drv := newFake()
	s := newSerializer(t, drv, Options{})
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "a.tmp")
	var last atomic.Int64
	n, err := s.DownloadFile(context.Background(), "a.hda", 10_000, dest, func(done, total int64) {
		assert.Equal(t, int64(10_000), total)
		last.Store(done)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), n)
	assert.Equal(t, int64(10_000), last.Load())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, data, 10_000)
}

// A battery query issued during a download must not reach the driver until
// the download has returned.
func TestSerializer_BatteryWaitsForDownload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	drv := newFake()
	s := New(drv, Options{})
	defer s.Close()
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	drv.Hook(devicetest.OpDownload, func(context.Context) {
		close(started)
		<-release
	})

	downloadDone := make(chan error, 1)
	go func() {
		_, err := s.DownloadFile(context.Background(), "a.hda", 10_000, filepath.Join(t.TempDir(), "a.tmp"), nil)
		downloadDone <- err
	}()
	<-started

	batteryDone := make(chan error, 1)
	go func() {
		_, err := s.BatteryStatus(context.Background())
		batteryDone <- err
	}()

	select {
	case <-batteryDone:
		t.Fatal("battery query completed while download was in flight")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, drv.Calls(devicetest.OpBattery))

	close(release)
	require.NoError(t, <-downloadDone)
	require.NoError(t, <-batteryDone)

	assert.Equal(t, 1, drv.Calls(devicetest.OpBattery))
	assert.Zero(t, drv.Overlaps())
}

func TestSerializer_CallerContextCancelledWhileQueued(t *testing.T) {
	drv := newFake()
	s := newSerializer(t, drv, Options{})
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	drv.Hook(devicetest.OpList, func(context.Context) {
		close(started)
		<-release
	})
	go func() { _, _ = s.ListFiles(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.StorageInfo(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestSerializer_NotConnectedFromDriverTearsDown(t *testing.T) {
	drv := newFake()
	lost := make(chan error, 1)
	s := newSerializer(t, drv, Options{OnSessionLost: func(err error) { lost <- err }})
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	drv.FailNext(devicetest.OpStorage, &device.TransportError{Op: "storage", Err: device.ErrNotConnected})
	_, err = s.StorageInfo(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)

	select {
	case cause := <-lost:
		assert.ErrorIs(t, cause, device.ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("OnSessionLost not called")
	}
	_, ok := s.Session()
	assert.False(t, ok)
	assert.False(t, drv.IsOpen())
}

func TestSerializer_KeepAliveWhileConnected(t *testing.T) {
	drv := newFake()
	s := newSerializer(t, drv, Options{KeepAliveInterval: 10 * time.Millisecond})

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, drv.Calls(devicetest.OpKeepAlive), "no keep-alive without a session")

	_, err := s.Connect(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return drv.Calls(devicetest.OpKeepAlive) >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect(context.Background()))
	// Let a tick that was already in flight drain before sampling.
	time.Sleep(30 * time.Millisecond)
	after := drv.Calls(devicetest.OpKeepAlive)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, drv.Calls(devicetest.OpKeepAlive))
	assert.Zero(t, drv.Overlaps())
}

func TestSerializer_CloseDisconnectsAndRejects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	drv := newFake()
	s := New(drv, Options{KeepAliveInterval: time.Millisecond})
	_, err := s.Connect(context.Background())
	require.NoError(t, err)

	s.Close()
	s.Close()
	assert.False(t, drv.IsOpen())

	_, err = s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
