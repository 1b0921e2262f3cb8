package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/opsbridge/msigbridge/internal/apierror"
	"github.com/opsbridge/msigbridge/internal/coordinator"
	"github.com/opsbridge/msigbridge/internal/storage"
)

// unexpectedFieldError mirrors the original's two-way distinction: a
// "file_"-prefixed name that isn't one of the known kinds names an invalid
// file type, while anything else is simply a field this endpoint never
// expected.
func unexpectedFieldError(name string) *apierror.APIError {
	if strings.HasPrefix(name, "file_") {
		return apierror.InvalidRequest(fmt.Sprintf("invalid file type '%s'", name))
	}
	return apierror.InvalidRequest(fmt.Sprintf("unexpected field '%s'", name))
}

var fileKindByFieldName = map[string]storage.OpFileType{
	"file_psbt":           storage.FilePsbt,
	"file_media":          storage.FileMedia,
	"file_operation_data": storage.FileOperationData,
	"file_consignment":    storage.FileConsignment,
}

// collectedFiles is the result of walking a multipart body for §4.3.1/§4.3.2:
// every file_<kind> part streamed to a temp file, plus the lone PSBT (if any)
// broken out since both operation post and operation respond treat it
// specially.
type collectedFiles struct {
	all  []coordinator.PendingFile
	psbt *coordinator.PendingFile
}

// streamMultipartFiles walks every remaining part of mr, streaming file_<kind>
// parts to temp files and invoking onField for every other field (by name,
// with its decoded body) so callers can pull out things like operation_type
// or request. Returns *apierror.APIError so handlers can respond directly.
func streamMultipartFiles(mr *multipart.Reader, coord *coordinator.Coordinator, onField func(name string, body []byte) *apierror.APIError) (collectedFiles, *apierror.APIError) {
	var out collectedFiles

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, apierror.InvalidRequest("malformed multipart body")
		}

		name := part.FormName()
		kind, isFile := fileKindByFieldName[name]
		if !isFile {
			body, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return out, apierror.InvalidRequest("malformed multipart body")
			}
			if onField != nil {
				if apiErr := onField(name, body); apiErr != nil {
					return out, apiErr
				}
			}
			continue
		}

		if kind == storage.FilePsbt && out.psbt != nil {
			part.Close()
			return out, apierror.InvalidRequest("more than one PSBT provided")
		}

		tmp, err := coord.Files().NewTempFile()
		if err != nil {
			part.Close()
			return out, apierror.IO(err)
		}
		n, err := io.Copy(tmp, part)
		part.Close()
		closeErr := tmp.Close()
		if err != nil || closeErr != nil {
			return out, apierror.IO(err)
		}
		if n == 0 {
			return out, apierror.InvalidRequest(fmt.Sprintf("empty file for field '%s'", name))
		}

		pf := coordinator.PendingFile{Kind: kind, TempPath: tmp.Name()}
		out.all = append(out.all, pf)
		if kind == storage.FilePsbt {
			psbt := pf
			out.psbt = &psbt
		}
	}

	return out, nil
}

func (s *Server) handlePostOperation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, postOperationBodyLimit)

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeAPIError(w, apierror.InvalidRequest("expected multipart/form-data body"))
		return
	}

	var opType storage.OperationType
	var sawOpType bool

	files, apiErr := streamMultipartFiles(mr, s.coord, func(name string, body []byte) *apierror.APIError {
		if name != "operation_type" {
			return unexpectedFieldError(name)
		}
		if len(body) != 1 {
			return apierror.InvalidRequest("operation_type must be a single byte")
		}
		t := storage.OperationType(body[0])
		if !t.Valid() {
			return apierror.InvalidOperationType(body[0])
		}
		opType = t
		sawOpType = true
		return nil
	})
	if apiErr != nil {
		s.writeAPIError(w, apiErr)
		return
	}
	if !sawOpType {
		s.writeAPIError(w, apierror.InvalidRequest("operation_type is required"))
		return
	}
	if len(files.all) == 0 {
		s.writeAPIError(w, apierror.InvalidRequest("at least one file is required"))
		return
	}

	opIdx, err := s.coord.PostOperation(principalOf(r).Idx, opType, files.all)
	if err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, postOperationResponseDTO{OperationIdx: opIdx})
}

func (s *Server) handleRespondToOperation(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeAPIError(w, apierror.InvalidRequest("expected multipart/form-data body"))
		return
	}

	var req respondToOperationRequestDTO
	var sawRequest bool

	files, apiErr := streamMultipartFiles(mr, s.coord, func(name string, body []byte) *apierror.APIError {
		if name != "request" {
			return unexpectedFieldError(name)
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return apierror.InvalidRequest("malformed request field")
		}
		sawRequest = true
		return nil
	})
	if apiErr != nil {
		s.writeAPIError(w, apiErr)
		return
	}
	if !sawRequest {
		s.writeAPIError(w, apierror.InvalidRequest("request field is required"))
		return
	}

	view, err := s.coord.RespondToOperation(principalOf(r).Idx, coordinator.RespondInput{
		OperationIdx: req.OperationIdx,
		Ack:          req.Ack,
		Psbt:         files.psbt,
	})
	if err != nil {
		s.writeAPIError(w, asAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, toOperationResponseDTO(view))
}
