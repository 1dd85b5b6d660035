// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package syncer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/device/devicetest"
	"github.com/ManuGH/hidocu/internal/storage"
	"github.com/ManuGH/hidocu/internal/transport"
)

const serial = "H1-0001"

type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

type harness struct {
	root    string
	drv     *devicetest.Driver
	tr      *transport.Serializer
	cat     *catalog.Store
	store   *storage.Store
	orch    *Orchestrator
	sleeper *recordingSleeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	drv := devicetest.New(device.Session{Serial: serial, Model: device.ModelH1, FirmwareVersion: "5.2.1"})
	tr := transport.New(drv, transport.Options{})
	t.Cleanup(tr.Close)
	_, err = tr.Connect(ctx)
	require.NoError(t, err)

	cat, err := catalog.Open(ctx, filepath.Join(root, "catalog.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	st := storage.New(filepath.Join(root, "recordings"), "")
	require.NoError(t, st.EnsureStorageDirectoryExists())

	sl := &recordingSleeper{}
	return &harness{
		root:    root,
		drv:     drv,
		tr:      tr,
		cat:     cat,
		store:   st,
		orch:    New(tr, cat, st, nil, Options{Sleeper: sl}),
		sleeper: sl,
	}
}

func (h *harness) addRemote(name string, size int) {
	h.drv.AddFile(device.RemoteFile{Name: name, Mode: "Rec"}, bytes.Repeat([]byte{'n'}, size))
}

// seed places a local recording on disk and in the catalog.
func (h *harness) seed(t *testing.T, name string, size *int64, content []byte) *catalog.Record {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.store.Root(), name), content, 0o644))
	r := &catalog.Record{Filename: name, FilePath: name, SizeBytes: size, SyncStatus: catalog.StatusSynced}
	require.NoError(t, h.cat.Insert(context.Background(), r))
	return r
}

func (h *harness) fetch(t *testing.T, name string) *catalog.Record {
	t.Helper()
	r, err := h.cat.FetchByFilename(context.Background(), name)
	require.NoError(t, err)
	return r
}

func (h *harness) tempEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.store.Root(), ".incoming"))
	require.NoError(t, err)
	return entries
}

func TestSync_DownloadsThenSkipsOnSecondRun(t *testing.T) {
	h := newHarness(t)
	h.addRemote("2025May12-143000-Rec01.hda", 1000)
	h.addRemote("2025May12-150000-Rec02.hda", 2500)
	ctx := context.Background()

	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Downloaded: 2}, res.Stats)
	assert.NoError(t, res.Err)
	assert.False(t, res.Cancelled)

	r := h.fetch(t, "2025May12-143000-Rec01.hda")
	require.NotNil(t, r)
	size, ok := r.Size()
	require.True(t, ok)
	assert.Equal(t, int64(1000), size)
	assert.Equal(t, catalog.StatusSynced, r.SyncStatus)
	assert.Equal(t, serial, r.DeviceSerial)
	assert.Equal(t, "Rec", r.RecordingMode)
	assert.True(t, h.store.Exists("2025May12-150000-Rec02.hda"))
	assert.Empty(t, h.tempEntries(t))

	res, err = h.orch.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Skipped: 2}, res.Stats)
	assert.Equal(t, 2, h.drv.Calls(devicetest.OpDownload), "second run must not download")
	assert.Contains(t, res.Message(), "0 downloaded, 2 skipped")
}

func TestSync_ConflictRenamesExistingBeforeCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "a.hda", catalog.Int64(100), bytes.Repeat([]byte{'o'}, 100))
	h.addRemote("a.hda", 200)

	var backupOnDisk, rowRenamed atomic.Bool
	h.drv.Hook(devicetest.OpDownload, func(context.Context) {
		backupOnDisk.Store(h.store.Exists("a_backup_1.hda"))
		r, err := h.cat.FetchByFilename(context.Background(), "a_backup_1.hda")
		rowRenamed.Store(err == nil && r != nil)
	})

	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Stats.Downloaded)
	assert.True(t, backupOnDisk.Load(), "backup must exist on disk before the download")
	assert.True(t, rowRenamed.Load(), "catalog row must be renamed before the download")

	current := h.fetch(t, "a.hda")
	require.NotNil(t, current)
	assert.Equal(t, int64(200), *current.SizeBytes)
	assert.Equal(t, catalog.StatusSynced, current.SyncStatus)

	backup := h.fetch(t, "a_backup_1.hda")
	require.NotNil(t, backup)
	assert.Equal(t, int64(100), *backup.SizeBytes)
	assert.Equal(t, "a_backup_1.hda", backup.FilePath)
	assert.Equal(t, catalog.StatusLocalOnly, backup.SyncStatus)

	data, err := os.ReadFile(filepath.Join(h.store.Root(), "a_backup_1.hda"))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'o'}, 100), data)

	n, err := h.cat.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSync_ConflictSkipsBackupNamesTakenInCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "a.hda", catalog.Int64(100), bytes.Repeat([]byte{'o'}, 100))
	// Row without a file: the name is still taken.
	require.NoError(t, h.cat.Insert(ctx, &catalog.Record{Filename: "a_backup_1.hda", FilePath: "a_backup_1.hda"}))
	h.addRemote("a.hda", 200)

	res, err := h.orch.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.NotNil(t, h.fetch(t, "a_backup_2.hda"))
	assert.True(t, h.store.Exists("a_backup_2.hda"))
}

func TestSync_MissingCatalogSizeCountsAsMatch(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "legacy.hda", nil, []byte("old"))
	h.addRemote("legacy.hda", 500)

	res, err := h.orch.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Skipped: 1}, res.Stats)
	assert.Zero(t, h.drv.Calls(devicetest.OpDownload))
}

func TestSync_SizeMismatchIsRejected(t *testing.T) {
	h := newHarness(t)
	h.addRemote("short.hda", 100)
	h.addRemote("ok.hda", 50)
	h.drv.ShortWrite("short.hda", 10)

	res, err := h.orch.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Downloaded: 1, Failed: 1}, res.Stats)

	var mismatch *SizeMismatchError
	require.ErrorAs(t, res.Err, &mismatch)
	assert.Equal(t, int64(100), mismatch.Expected)
	assert.Equal(t, int64(90), mismatch.Got)
	assert.Contains(t, res.Message(), "short.hda")

	assert.Nil(t, h.fetch(t, "short.hda"))
	assert.False(t, h.store.Exists("short.hda"))
	assert.Empty(t, h.tempEntries(t))
	assert.NotNil(t, h.fetch(t, "ok.hda"), "one failure must not abort the batch")
}

func TestSync_ByteAccountingIsCapped(t *testing.T) {
	h := newHarness(t)
	// Declared 100 bytes but the device streams 150.
	h.drv.AddFile(device.RemoteFile{Name: "liar.hda", Size: 100}, bytes.Repeat([]byte{'x'}, 150))
	h.addRemote("fine.hda", 50)

	ch, unsubscribe := h.orch.Subscribe()
	defer unsubscribe()

	res, err := h.orch.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Failed)

	var last Progress
	seen := 0
	for {
		select {
		case p := <-ch:
			seen++
			assert.LessOrEqual(t, p.BytesTransferred, p.BytesExpected)
			last = p
			continue
		default:
		}
		break
	}
	require.NotZero(t, seen)
	assert.Equal(t, PhaseIdle, last.Phase)
	assert.Equal(t, int64(150), last.BytesExpected)
	assert.Equal(t, last.BytesExpected, last.BytesTransferred)
}

func TestSync_RejectsConcurrentSessionForSameDevice(t *testing.T) {
	h := newHarness(t)
	h.addRemote("a.hda", 10)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.drv.Hook(devicetest.OpDownload, func(context.Context) {
		once.Do(func() { close(entered) })
		<-release
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Sync(context.Background())
		done <- err
	}()
	<-entered

	_, err := h.orch.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSessionActive)
	require.Len(t, h.orch.Active(), 1)
	assert.Equal(t, PhaseSyncing, h.orch.Active()[0].Phase)

	_, err = h.orch.Import(context.Background(), nil)
	assert.NoError(t, err, "imports use their own key")

	close(release)
	require.NoError(t, <-done)
	assert.Empty(t, h.orch.Active())
}

func TestSync_CancelStopsAtCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.addRemote("a.hda", 10_000)
	h.addRemote("b.hda", 10_000)
	h.drv.Hook(devicetest.OpDownload, func(context.Context) {
		assert.True(t, h.orch.Cancel(serial))
	})

	res, err := h.orch.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.NoError(t, res.Err, "cancellation is not a failure")
	assert.Contains(t, res.Message(), "cancelled")
	assert.Equal(t, "cancelled", res.Status())
	assert.Equal(t, 1, h.drv.Calls(devicetest.OpDownload))
	assert.Nil(t, h.fetch(t, "a.hda"))
	assert.Empty(t, h.tempEntries(t))

	last, ok := h.orch.LastResult(serial)
	require.True(t, ok)
	assert.True(t, last.Cancelled)
	assert.False(t, h.orch.Cancel(serial), "nothing left to cancel")
}

func TestSync_Subset(t *testing.T) {
	h := newHarness(t)
	h.addRemote("a.hda", 10)
	h.addRemote("b.hda", 20)

	res, err := h.orch.Sync(context.Background(), "b.hda", "zzz.hda")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Downloaded: 1, Failed: 1}, res.Stats)
	assert.ErrorIs(t, res.Err, ErrNotOnDevice)
	assert.Nil(t, h.fetch(t, "a.hda"))
	assert.NotNil(t, h.fetch(t, "b.hda"))
}

func TestSync_RequiresSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.tr.Disconnect(context.Background()))

	_, err := h.orch.Sync(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestSync_ListingIsRetried(t *testing.T) {
	h := newHarness(t)
	h.addRemote("a.hda", 10)
	h.drv.FailNext(devicetest.OpList, errors.New("usb pipe stalled"))

	res, err := h.orch.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Downloaded)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, h.sleeper.Slept())
}

func TestSync_ListingFailsFastWhenDisconnected(t *testing.T) {
	h := newHarness(t)
	h.drv.FailNext(devicetest.OpList, device.ErrNotConnected)

	_, err := h.orch.Sync(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.Empty(t, h.sleeper.Slept())
}

func TestSync_MovesUncataloguedFileAside(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.store.Root(), "a.hda"), []byte("stray"), 0o644))
	h.addRemote("a.hda", 10)

	res, err := h.orch.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.True(t, h.store.Exists("a_backup_1.hda"))
	data, err := os.ReadFile(filepath.Join(h.store.Root(), "a.hda"))
	require.NoError(t, err)
	assert.Len(t, data, 10)
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	onDevice := &catalog.Record{Filename: "kept.hda", FilePath: "kept.hda", DeviceSerial: serial, SyncStatus: catalog.StatusLocalOnly}
	gone := &catalog.Record{Filename: "gone.hda", FilePath: "gone.hda", DeviceSerial: serial, SyncStatus: catalog.StatusSynced}
	other := &catalog.Record{Filename: "other.hda", FilePath: "other.hda", DeviceSerial: "OTHER", SyncStatus: catalog.StatusSynced}
	for _, r := range []*catalog.Record{onDevice, gone, other} {
		require.NoError(t, h.cat.Insert(ctx, r))
	}

	n, err := h.orch.Reconcile(ctx, serial, []device.RemoteFile{{Name: "kept.hda"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, catalog.StatusSynced, h.fetch(t, "kept.hda").SyncStatus)
	assert.Equal(t, catalog.StatusLocalOnly, h.fetch(t, "gone.hda").SyncStatus)
	assert.Equal(t, catalog.StatusSynced, h.fetch(t, "other.hda").SyncStatus)
}

func TestImport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "memo.wav", catalog.Int64(3), []byte("old"))

	src := filepath.Join(t.TempDir(), "memo.wav")
	require.NoError(t, os.WriteFile(src, []byte("fresh take"), 0o644))
	missing := filepath.Join(t.TempDir(), "missing.wav")

	res, err := h.orch.Import(ctx, []string{src, missing})
	require.NoError(t, err)
	assert.Equal(t, KindImport, res.Kind)
	assert.Equal(t, Stats{Total: 2, Downloaded: 1, Failed: 1}, res.Stats)
	assert.Contains(t, res.Message(), "Import finished")

	r := h.fetch(t, "memo.wav")
	require.NotNil(t, r)
	assert.Equal(t, int64(10), *r.SizeBytes)
	assert.Equal(t, catalog.StatusLocalOnly, r.SyncStatus)
	assert.Equal(t, "memo", r.Title)
	assert.NotNil(t, h.fetch(t, "memo_backup_1.wav"))

	_, err = os.Stat(src)
	assert.NoError(t, err, "import copies, the source stays")
}

func TestResultStatus(t *testing.T) {
	assert.Equal(t, "ok", Result{Stats: Stats{Total: 1, Downloaded: 1}}.Status())
	assert.Equal(t, "partial", Result{Stats: Stats{Total: 2, Downloaded: 1, Failed: 1}}.Status())
	assert.Equal(t, "error", Result{Stats: Stats{Total: 1, Failed: 1}}.Status())
	assert.Equal(t, "cancelled", Result{Cancelled: true}.Status())
}

func TestSync_LongFilenameIsDownloaded(t *testing.T) {
	h := newHarness(t)
	name := strings.Repeat("r", 246) + ".hda"
	h.addRemote(name, 100)

	res, err := h.orch.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, Stats{Total: 1, Downloaded: 1}, res.Stats)
	assert.True(t, h.store.Exists(name))
	assert.Empty(t, h.tempEntries(t))
}

func TestImport_LongFilename(t *testing.T) {
	h := newHarness(t)
	name := strings.Repeat("i", 246) + ".wav"
	src := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(src, []byte("take"), 0o644))

	res, err := h.orch.Import(context.Background(), []string{src})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, Stats{Total: 1, Downloaded: 1}, res.Stats)
	require.NotNil(t, h.fetch(t, name))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "", firstLine(""))
	assert.Equal(t, "single", firstLine("single"))
	assert.Equal(t, "Sync completed", firstLine("Sync completed\nFailed: a.hda"))
	assert.Equal(t, "", firstLine("\ntrailing"))
}
