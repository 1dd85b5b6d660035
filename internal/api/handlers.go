// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/hidocu/internal/audit"
	"github.com/ManuGH/hidocu/internal/catalog"
	"github.com/ManuGH/hidocu/internal/device"
	"github.com/ManuGH/hidocu/internal/log"
	"github.com/ManuGH/hidocu/internal/supervisor"
	"github.com/ManuGH/hidocu/internal/syncer"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type deviceResponse struct {
	supervisor.State
	Message string `json:"message"`
}

type resultResponse struct {
	syncer.Result
	Status  string `json:"status"`
	Message string `json:"message"`
}

type syncStatusResponse struct {
	Active []syncer.Progress         `json:"active"`
	Last   map[string]resultResponse `json:"last,omitempty"`
}

type syncRequest struct {
	Files []string `json:"files"`
}

type cancelRequest struct {
	Key string `json:"key"`
}

type importRequest struct {
	Paths []string `json:"paths"`
}

type startedResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

type recordingsResponse struct {
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Items  []catalog.Record `json:"items"`
}

func (s *Server) handleDeviceState(w http.ResponseWriter, _ *http.Request) {
	st := s.device.State()
	writeJSON(w, http.StatusOK, deviceResponse{State: st, Message: st.Message()})
}

// handleDeviceRetry starts a connect sequence in the background. Only a
// missing physical attachment is reported synchronously.
func (s *Server) handleDeviceRetry(w http.ResponseWriter, r *http.Request) {
	st := s.device.State()
	if !st.Attached {
		s.audit.Request(r, audit.Event{Type: audit.EventDeviceRetry, Action: "manual retry", Result: audit.ResultRejected})
		writeError(w, r, supervisor.ErrNotAttached)
		return
	}
	if st.Phase == supervisor.PhaseConnected {
		writeJSON(w, http.StatusOK, deviceResponse{State: st, Message: st.Message()})
		return
	}
	if s.startBackground(w, r, "", func(ctx context.Context) {
		if err := s.device.Retry(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "api.retry_failed").Msg("manual retry failed")
		}
	}) {
		s.audit.Request(r, audit.Event{Type: audit.EventDeviceRetry, Action: "manual retry", Resource: st.DeviceID, Result: audit.ResultStarted})
	}
}

func (s *Server) handleDeviceDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.device.Disconnect(r.Context()); err != nil {
		s.audit.Request(r, audit.Event{Type: audit.EventDeviceDisconnect, Action: "disconnect", Result: audit.ResultFailure,
			Details: map[string]string{"error": err.Error()}})
		writeError(w, r, err)
		return
	}
	s.audit.Request(r, audit.Event{Type: audit.EventDeviceDisconnect, Action: "disconnect", Result: audit.ResultSuccess})
	st := s.device.State()
	writeJSON(w, http.StatusOK, deviceResponse{State: st, Message: st.Message()})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	resp := syncStatusResponse{Active: s.syncs.Active(), Last: map[string]resultResponse{}}
	keys := []string{syncer.ImportKey}
	if serial := s.currentSerial(); serial != "" {
		keys = append(keys, serial)
	}
	for _, key := range keys {
		if res, ok := s.syncs.LastResult(key); ok {
			resp.Last[key] = resultResponse{Result: res, Status: res.Status(), Message: res.Message()}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	serial := s.currentSerial()
	if serial == "" {
		writeError(w, r, device.ErrNotConnected)
		return
	}
	if s.isActive(serial) {
		writeError(w, r, syncer.ErrSessionActive)
		return
	}
	files := req.Files
	started := s.startBackground(w, r, serial, func(ctx context.Context) {
		res, err := s.syncs.Sync(ctx, files...)
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "api.sync_failed").Msg("sync request failed")
			return
		}
		s.logger.Info().Str(log.FieldEvent, "api.sync_done").Str("status", res.Status()).Msg(firstLine(res.Message()))
	})
	if started {
		s.audit.Request(r, audit.Event{Type: audit.EventSyncStart, Action: "manual sync", Resource: serial, Result: audit.ResultStarted,
			Details: map[string]string{"files": strconv.Itoa(len(files))}})
	}
}

func (s *Server) handleSyncCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	key := req.Key
	if key == "" {
		key = s.currentSerial()
	}
	if key == "" || !s.syncs.Cancel(key) {
		writeNotFound(w, r, "no running session")
		return
	}
	s.audit.Request(r, audit.Event{Type: audit.EventSyncCancel, Action: "cancel session", Resource: key, Result: audit.ResultSuccess})
	writeJSON(w, http.StatusAccepted, startedResponse{Status: "cancelling", Key: key})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if len(req.Paths) == 0 {
		writeBadRequest(w, r, "paths must not be empty")
		return
	}
	if s.isActive(syncer.ImportKey) {
		writeError(w, r, syncer.ErrSessionActive)
		return
	}
	paths := req.Paths
	started := s.startBackground(w, r, syncer.ImportKey, func(ctx context.Context) {
		res, err := s.syncs.Import(ctx, paths)
		if err != nil {
			s.logger.Warn().Err(err).Str(log.FieldEvent, "api.import_failed").Msg("import request failed")
			return
		}
		s.logger.Info().Str(log.FieldEvent, "api.import_done").Str("status", res.Status()).Msg(firstLine(res.Message()))
	})
	if started {
		s.audit.Request(r, audit.Event{Type: audit.EventImportStart, Action: "import files", Resource: syncer.ImportKey, Result: audit.ResultStarted,
			Details: map[string]string{"files": strconv.Itoa(len(paths))}})
	}
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil || limit <= 0 || limit > maxPageLimit {
		writeBadRequest(w, r, "limit must be between 1 and 1000")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeBadRequest(w, r, "offset must be >= 0")
		return
	}
	total, err := s.records.Count(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.records.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []catalog.Record{}
	}
	writeJSON(w, http.StatusOK, recordingsResponse{Total: total, Limit: limit, Offset: offset, Items: items})
}

func (s *Server) startBackground(w http.ResponseWriter, r *http.Request, key string, fn func(ctx context.Context)) bool {
	if !s.goBackground(fn) {
		writeProblem(w, r, http.StatusServiceUnavailable, "shutting_down", "server is stopping")
		return false
	}
	writeJSON(w, http.StatusAccepted, startedResponse{Status: "started", Key: key})
	return true
}

func (s *Server) currentSerial() string {
	st := s.device.State()
	if st.Phase != supervisor.PhaseConnected || st.Session == nil {
		return ""
	}
	return st.Session.Serial
}

func (s *Server) isActive(key string) bool {
	for _, p := range s.syncs.Active() {
		if p.Key == key {
			return true
		}
	}
	return false
}

// decodeBody accepts an empty body as the zero value.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
