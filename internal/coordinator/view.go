package coordinator

import (
	"context"
	"database/sql"

	"github.com/opsbridge/msigbridge/internal/apierror"
	"github.com/opsbridge/msigbridge/internal/storage"
)

// FileView is one file attached to an operation, as served in an
// OperationResponse.
type FileView struct {
	FileID       string
	Type         storage.OpFileType
	PostedByXpub string
	SizeBytes    int64
}

// OperationView mirrors the wire-level OperationResponse shape (§6).
type OperationView struct {
	OperationIdx  int64
	InitiatorXpub string
	CreatedAt     int64
	OperationType storage.OperationType
	Status        storage.OperationStatus
	AckedBy       []string
	NackedBy      []string
	Threshold     *uint8
	MyResponse    *bool
	ProcessedAt   *int64
	Files         []FileView
}

// buildOperationView assembles the view for operationIdx as seen by
// viewerIdx (nil for watch-only or no per-cosigner fields).
func (c *Coordinator) buildOperationView(ctx context.Context, q storage.Execer, operationIdx int64, viewerIdx *int) (*OperationView, error) {
	op, err := storage.GetOperation(ctx, q, operationIdx)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.Database(err)
	}

	initiatorXpub, _ := c.CosignerXpub(op.InitiatorIdx)

	statuses, err := storage.ListCosignerOpStatuses(ctx, q, operationIdx)
	if err != nil {
		return nil, apierror.Database(err)
	}

	view := &OperationView{
		OperationIdx:  op.Idx,
		InitiatorXpub: initiatorXpub,
		CreatedAt:     op.CreatedAt,
		OperationType: op.Type,
		Status:        op.Status,
		Threshold:     c.thresholdFor(op.Type),
		AckedBy:       []string{},
		NackedBy:      []string{},
	}

	var respondersPsbts []FileView
	for _, s := range statuses {
		xpub, _ := c.CosignerXpub(s.CosignerIdx)
		if s.Ack.Valid {
			if s.Ack.Bool {
				view.AckedBy = append(view.AckedBy, xpub)
			} else {
				view.NackedBy = append(view.NackedBy, xpub)
			}
		}
		if s.PsbtOpFileIdx.Valid && xpub != initiatorXpub {
			size, err := c.filePsbtSize(ctx, q, s.PsbtOpFileIdx.Int64)
			if err != nil {
				return nil, err
			}
			respondersPsbts = append(respondersPsbts, FileView{
				FileID:       size.fileID,
				Type:         storage.FilePsbt,
				PostedByXpub: xpub,
				SizeBytes:    size.bytes,
			})
		}
		if viewerIdx != nil && s.CosignerIdx == *viewerIdx {
			if s.Ack.Valid {
				ack := s.Ack.Bool
				view.MyResponse = &ack
			}
			if s.ProcessedAt.Valid {
				processedAt := s.ProcessedAt.Int64
				view.ProcessedAt = &processedAt
			}
		}
	}

	// Every OpFile row is first listed attributed to the initiator, then each
	// responder's PSBT is appended a second time attributed to whoever
	// actually posted it. A responder's PSBT therefore appears twice in the
	// files array, once mis-attributed to the initiator.
	opFiles, err := storage.ListOpFiles(ctx, q, operationIdx)
	if err != nil {
		return nil, apierror.Database(err)
	}
	for _, f := range opFiles {
		size, err := c.files.Size(f.FileID)
		if err != nil {
			return nil, apierror.IO(err)
		}
		view.Files = append(view.Files, FileView{
			FileID:       f.FileID,
			Type:         f.Type,
			PostedByXpub: initiatorXpub,
			SizeBytes:    size,
		})
	}
	view.Files = append(view.Files, respondersPsbts...)

	return view, nil
}

type opFileSize struct {
	fileID string
	bytes  int64
}

// filePsbtSize resolves a responder PSBT's file_id and on-disk size from its
// OpFile row index, for the second, responder-attributed pass over the
// operation's files.
func (c *Coordinator) filePsbtSize(ctx context.Context, q storage.Execer, opFileIdx int64) (opFileSize, error) {
	f, err := storage.GetOpFile(ctx, q, opFileIdx)
	if err != nil {
		return opFileSize{}, apierror.Database(err)
	}
	size, err := c.files.Size(f.FileID)
	if err != nil {
		return opFileSize{}, apierror.IO(err)
	}
	return opFileSize{fileID: f.FileID, bytes: size}, nil
}

// GetOperationByIdx is the read-only lookup backing /getoperationbyidx. It
// takes no write lock and returns a nil view (no error) when operationIdx
// does not exist, matching the endpoint's nullable response.
func (c *Coordinator) GetOperationByIdx(ctx context.Context, operationIdx int64, viewerIdx *int) (*OperationView, error) {
	return c.buildOperationView(ctx, c.store.DB(), operationIdx, viewerIdx)
}
