// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package devicetest provides an in-memory device.Driver for tests.
package devicetest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/hidocu/internal/device"
)

// Op names used for scripted failures and hooks.
const (
	OpOpen      = "open"
	OpClose     = "close"
	OpList      = "list"
	OpDownload  = "download"
	OpDelete    = "delete"
	OpBattery   = "battery"
	OpStorage   = "storage"
	OpKeepAlive = "keepalive"
)

// File is an in-memory recording.
type File struct {
	Entry device.RemoteFile
	Data  []byte
}

// Driver is a scriptable fake. Every method records entry and exit so tests can
// assert that no two calls overlapped.
type Driver struct {
	mu       sync.Mutex
	session  device.Session
	files    map[string]File
	order    []string
	failures map[string][]error
	hooks    map[string]func(ctx context.Context)
	battery  device.BatteryStatus
	storage  device.StorageInfo
	open     bool
	calls    map[string]int
	// ShortWrite truncates downloads of the named files by this many bytes.
	shortWrite map[string]int64

	inFlight atomic.Int32
	overlaps atomic.Int32
}

// New returns a fake driver reporting sess on Open.
func New(sess device.Session) *Driver {
	if sess.Model == "" {
		sess.Model = device.ModelUnknown
	}
	sess.Capabilities = sess.Model.Capabilities()
	return &Driver{
		session:    sess,
		files:      make(map[string]File),
		failures:   make(map[string][]error),
		hooks:      make(map[string]func(context.Context)),
		calls:      make(map[string]int),
		shortWrite: make(map[string]int64),
		storage:    device.StorageInfo{Total: 32 << 30, Free: 16 << 30},
		battery:    device.BatteryStatus{Percent: 80},
	}
}

// AddFile adds a file whose declared size matches len(data) unless entry.Size is set.
func (d *Driver) AddFile(entry device.RemoteFile, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry.Size == 0 {
		entry.Size = int64(len(data))
	}
	if _, ok := d.files[entry.Name]; !ok {
		d.order = append(d.order, entry.Name)
	}
	d.files[entry.Name] = File{Entry: entry, Data: data}
}

// RemoveFile drops a file from the fake listing.
func (d *Driver) RemoveFile(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
func (d *Driver) FailNext(op string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], errs...)
}

// Hook runs fn inside op while the call is in flight.
func (d *Driver) Hook(op string, fn func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks[op] = fn
}

// ShortWrite makes downloads of name deliver n bytes fewer than stored.
func (d *Driver) ShortWrite(name string, n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shortWrite[name] = n
}

// SetBattery sets the reported battery status.
func (d *Driver) SetBattery(b device.BatteryStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.battery = b
}

// Calls returns how many times op was invoked.
func (d *Driver) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Overlaps returns how many calls started while another was in flight.
func (d *Driver) Overlaps() int {
	return int(d.overlaps.Load())
}

// IsOpen reports whether a session is open.
func (d *Driver) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *Driver) enter(ctx context.Context, op string) (func(), error) {
	if d.inFlight.Add(1) > 1 {
		d.overlaps.Add(1)
	}
	d.mu.Lock()
	d.calls[op]++
	var err error
	if q := d.failures[op]; len(q) > 0 {
		err = q[0]
		d.failures[op] = q[1:]
	}
	hook := d.hooks[op]
	d.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return func() { d.inFlight.Add(-1) }, err
}

func (d *Driver) requireOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return device.ErrNotConnected
	}
	return nil
}

func (d *Driver) Open(ctx context.Context) (device.Session, error) {
	exit, err := d.enter(ctx, OpOpen)
	defer exit()
	if err != nil {
		return device.Session{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return d.session, nil
}

func (d *Driver) Close(ctx context.Context) error {
	exit, err := d.enter(ctx, OpClose)
	defer exit()
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return err
}

func (d *Driver) List(ctx context.Context) ([]device.RemoteFile, error) {
	exit, err := d.enter(ctx, OpList)
	defer exit()
	if err != nil {
		return nil, err
	}
	if err := d.requireOpen(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]device.RemoteFile, 0, len(d.order))
	for _, n := range d.order {
		out = append(out, d.files[n].Entry)
	}
	return out, nil
}

func (d *Driver) Download(ctx context.Context, name string, size int64, w io.Writer, progress device.ProgressFunc) (int64, error) {
	exit, err := d.enter(ctx, OpDownload)
	defer exit()
	if err != nil {
		return 0, err
	}
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	f, ok := d.files[name]
	short := d.shortWrite[name]
	d.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", device.ErrFileNotFound, name)
	}
	data := f.Data
	if short > 0 && short <= int64(len(data)) {
		data = data[:int64(len(data))-short]
	}

	const chunk = 4096
	var done int64
	for off := 0; off < len(data); off += chunk {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		n, err := w.Write(data[off:end])
		done += int64(n)
		if err != nil {
			return done, err
		}
		if progress != nil {
			progress(done, size)
		}
	}
	return done, nil
}

func (d *Driver) Delete(ctx context.Context, name string) error {
	exit, err := d.enter(ctx, OpDelete)
	defer exit()
	if err != nil {
		return err
	}
	if err := d.requireOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	_, ok := d.files[name]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", device.ErrFileNotFound, name)
	}
	d.RemoveFile(name)
	return nil
}

func (d *Driver) Battery(ctx context.Context) (device.BatteryStatus, error) {
	exit, err := d.enter(ctx, OpBattery)
	defer exit()
	if err != nil {
		return device.BatteryStatus{}, err
	}
	if err := d.requireOpen(); err != nil {
		return device.BatteryStatus{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.session.Capabilities.BatteryTelemetry {
		return device.BatteryStatus{}, device.ErrBatteryUnsupported
	}
	return d.battery, nil
}

func (d *Driver) Storage(ctx context.Context) (device.StorageInfo, error) {
	exit, err := d.enter(ctx, OpStorage)
	defer exit()
	if err != nil {
		return device.StorageInfo{}, err
	}
	if err := d.requireOpen(); err != nil {
		return device.StorageInfo{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.storage, nil
}

func (d *Driver) KeepAlive(ctx context.Context) error {
	exit, err := d.enter(ctx, OpKeepAlive)
	defer exit()
	if err != nil {
		return err
	}
	return d.requireOpen()
}

// Names returns the current file names in listing order.
func (d *Driver) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]string(nil), d.order...)
	sort.Strings(out)
	return out
}

var _ device.Driver = (*Driver)(nil)
