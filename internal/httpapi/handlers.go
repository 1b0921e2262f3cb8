package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/opsbridge/msigbridge/internal/apierror"
	"github.com/opsbridge/msigbridge/internal/auth"
	"github.com/opsbridge/msigbridge/internal/filestore"
)

func principalOf(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.coord.BuildInfo(r.Context(), s.versions.Min, s.versions.Max, s.versions.Current)
	if err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, infoResponseDTO{
		MinRgbLibVersion: info.MinRgbLibVersion,
		MaxRgbLibVersion: info.MaxRgbLibVersion,
		RgbLibVersion:    info.RgbLibVersion,
		LastOperationIdx: info.LastOperationIdx,
	})
}

func (s *Server) handleGetCurrentAddressIndices(w http.ResponseWriter, r *http.Request) {
	internal, external, err := s.coord.GetCurrentAddressIndices(r.Context())
	if err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, currentAddressIndicesDTO{Internal: internal, External: external})
}

func (s *Server) handleBumpAddressIndices(w http.ResponseWriter, r *http.Request) {
	var req bumpAddressIndicesRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAPIError(w, apierror.InvalidRequest("malformed JSON body"))
		return
	}

	first, err := s.coord.BumpAddressIndices(req.Internal, uint64(req.Count))
	if err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, bumpAddressIndicesResponseDTO{First: uint32(first)})
}

func (s *Server) handleMarkOperationProcessed(w http.ResponseWriter, r *http.Request) {
	var req markOperationProcessedRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAPIError(w, apierror.InvalidRequest("malformed JSON body"))
		return
	}

	principal := principalOf(r)
	if err := s.coord.MarkOperationProcessed(principal.Idx, req.OperationIdx); err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleGetLastProcessedOpIdx(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	idx, err := s.coord.LastProcessedOpIdx(r.Context(), principal.Idx)
	if err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, getLastProcessedOpIdxResponseDTO{OperationIdx: idx})
}

func (s *Server) handleGetOperationByIdx(w http.ResponseWriter, r *http.Request) {
	var req getOperationByIdxRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAPIError(w, apierror.InvalidRequest("malformed JSON body"))
		return
	}

	principal := principalOf(r)
	var viewerIdx *int
	if principal.IsCosigner() {
		viewerIdx = &principal.Idx
	}

	view, err := s.coord.GetOperationByIdx(r.Context(), req.OperationIdx, viewerIdx)
	if err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	if view == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toOperationResponseDTO(view))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	var req getFileRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAPIError(w, apierror.InvalidRequest("malformed JSON body"))
		return
	}

	rc, size, err := s.coord.Files().Open(req.FileID)
	if errors.Is(err, filestore.ErrNotFound) {
		s.writeAPIError(w, apierror.FileNotFound())
		return
	}
	if err != nil {
		s.writeAPIError(w, apierror.IO(err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

func (s *Server) handleWSOperations(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r)
}
