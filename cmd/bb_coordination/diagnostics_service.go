package main

import (
	"encoding/json"
	"net/http"

	"github.com/buildbarn/bb-coordination/pkg/acl"
	"github.com/buildbarn/bb-coordination/pkg/persistence"
	"github.com/buildbarn/bb-coordination/pkg/store"
	"github.com/buildbarn/bb-coordination/pkg/tree"
	"github.com/gorilla/mux"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/zap"
)

var diagnosticsAuthentication = &acl.Authentication{IsSuperSession: true}

// diagnosticsService exposes read access to the tree and control over
// the lockdown set to operators over HTTP.
type diagnosticsService struct {
	store    store.Store
	factory  *persistence.InMemoryFactory
	lockDown *tree.LockDownSet
	logger   *zap.Logger
}

type nodeResponse struct {
	Path     string           `json:"path"`
	Data     []byte           `json:"data"`
	Stat     persistence.Stat `json:"stat"`
	Children []string         `json:"children"`
	ACL      []acl.Entry      `json:"acl"`
}

type lockDownRequest struct {
	Paths          []string `json:"paths"`
	IgnoreAllPaths bool     `json:"ignoreAllPaths"`
}

func (ds *diagnosticsService) register(router *mux.Router) {
	router.HandleFunc("/-/node", ds.handleNode).Methods(http.MethodGet)
	router.HandleFunc("/-/node/{path:.*}", ds.handleNode).Methods(http.MethodGet)
	router.HandleFunc("/-/snapshot", ds.handleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/-/lockdown", ds.handleLockDown).Methods(http.MethodPut)
}

func (ds *diagnosticsService) writeError(w http.ResponseWriter, err error) {
	httpStatus := http.StatusInternalServerError
	switch status.Code(err) {
	case codes.InvalidArgument:
		httpStatus = http.StatusBadRequest
	case codes.NotFound:
		httpStatus = http.StatusNotFound
	case codes.PermissionDenied:
		httpStatus = http.StatusForbidden
	case codes.Unavailable:
		httpStatus = http.StatusServiceUnavailable
	}
	http.Error(w, status.Convert(err).Message(), httpStatus)
}

func (ds *diagnosticsService) handleNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := "/" + mux.Vars(r)["path"]
	data, stat, err := ds.store.GetData(ctx, diagnosticsAuthentication, path, nil)
	if err != nil {
		ds.writeError(w, err)
		return
	}
	children, _, err := ds.store.GetChildren(ctx, diagnosticsAuthentication, path, r.URL.Query().Get("condition"), nil)
	if err != nil {
		ds.writeError(w, err)
		return
	}
	entries, _, err := ds.store.GetACL(ctx, diagnosticsAuthentication, path)
	if err != nil {
		ds.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nodeResponse{
		Path:     path,
		Data:     data,
		Stat:     stat,
		Children: children,
		ACL:      entries,
	}); err != nil {
		ds.logger.Warn("Failed to write node response", zap.String("path", path), zap.Error(err))
	}
}

func (ds *diagnosticsService) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/cbor")
	if err := ds.factory.SaveTo(w); err != nil {
		ds.logger.Warn("Failed to write snapshot", zap.Error(err))
	}
}

func (ds *diagnosticsService) handleLockDown(w http.ResponseWriter, r *http.Request) {
	var request lockDownRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ds.lockDown.ReplacePaths(request.Paths)
	ds.lockDown.SetIgnoreAllPaths(request.IgnoreAllPaths)
	ds.logger.Info("Lockdown set replaced",
		zap.Strings("paths", request.Paths),
		zap.Bool("ignore_all_paths", request.IgnoreAllPaths))
	w.WriteHeader(http.StatusNoContent)
}
