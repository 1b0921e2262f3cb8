package coordinator

import (
	"context"
	"database/sql"
	"errors"

	"github.com/opsbridge/msigbridge/internal/apierror"
	"github.com/opsbridge/msigbridge/internal/storage"
)

// PostOperation implements §4.3.1. initiatorIdx is the posting cosigner's
// resolved index; the PSBT, if one was provided, is the element of files
// whose Kind is storage.FilePsbt.
func (c *Coordinator) PostOperation(initiatorIdx int, opType storage.OperationType, files []PendingFile) (int64, error) {
	return runShielded(func(ctx context.Context) (int64, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if pending, err := storage.PendingOperationExists(ctx, c.store.DB()); err != nil {
			return 0, apierror.Database(err)
		} else if pending {
			return 0, apierror.CannotPostNewOperation("another operation is still pending")
		}

		if unprocessed, err := storage.HasUnprocessedOperation(ctx, c.store.DB(), initiatorIdx); err != nil {
			return 0, apierror.Database(err)
		} else if unprocessed {
			return 0, apierror.CannotPostNewOperation("initiator has unprocessed operations")
		}

		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return 0, apierror.Database(err)
		}
		defer tx.Rollback()

		status := storage.StatusPending
		if opType.AutoApproved() {
			status = storage.StatusApproved
		}

		now := c.now().UTC().Unix()
		operationIdx, err := storage.InsertOperation(ctx, tx, opType, status, now, initiatorIdx)
		if err != nil {
			return 0, apierror.Database(err)
		}

		// Non-PSBT files are persisted first, then the PSBT (if any).
		var psbtOpFileIdx sql.NullInt64
		for _, psbtPass := range []bool{false, true} {
			for _, pf := range files {
				if (pf.Kind == storage.FilePsbt) != psbtPass {
					continue
				}
				fileID, err := c.files.Store(pf.TempPath)
				if err != nil {
					return 0, apierror.IO(err)
				}
				opFileIdx, err := storage.InsertOpFile(ctx, tx, fileID, pf.Kind, operationIdx)
				if err != nil {
					return 0, apierror.Database(err)
				}
				if pf.Kind == storage.FilePsbt {
					psbtOpFileIdx = sql.NullInt64{Int64: opFileIdx, Valid: true}
				}
			}
		}

		for idx := range c.cosignerByIdx {
			if idx == initiatorIdx {
				if err := storage.InsertCosignerOpStatus(ctx, tx, idx, operationIdx,
					sql.NullBool{Bool: true, Valid: true},
					sql.NullInt64{Int64: now, Valid: true},
					psbtOpFileIdx); err != nil {
					return 0, apierror.Database(err)
				}
				continue
			}
			if err := storage.InsertCosignerOpStatus(ctx, tx, idx, operationIdx,
				sql.NullBool{}, sql.NullInt64{}, sql.NullInt64{}); err != nil {
				return 0, apierror.Database(err)
			}
		}

		if err := tx.Commit(); err != nil {
			return 0, apierror.Database(err)
		}

		c.emit(Event{Type: EventOperationPosted, OperationIdx: operationIdx})
		return operationIdx, nil
	})
}

// RespondInput is the parsed body of /respondtooperation.
type RespondInput struct {
	OperationIdx int64
	Ack          bool
	Psbt         *PendingFile
}

// RespondToOperation implements §4.3.2.
func (c *Coordinator) RespondToOperation(responderIdx int, in RespondInput) (*OperationView, error) {
	if in.Ack && in.Psbt == nil {
		return nil, apierror.InvalidRequest("ACK requires PSBT file")
	}

	return runShielded(func(ctx context.Context) (*OperationView, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		op, err := storage.GetOperation(ctx, c.store.DB(), in.OperationIdx)
		if err == sql.ErrNoRows {
			return nil, apierror.OperationNotFound()
		}
		if err != nil {
			return nil, apierror.Database(err)
		}

		if op.InitiatorIdx == responderIdx {
			return nil, apierror.CannotRespondToOperation("cannot respond to your own operation")
		}
		if op.Status != storage.StatusPending {
			return nil, apierror.CannotRespondToOperation("operation is not pending")
		}

		current, err := storage.GetCosignerOpStatus(ctx, c.store.DB(), responderIdx, in.OperationIdx)
		if err != nil {
			return nil, apierror.Database(err)
		}
		if current.Ack.Valid {
			return nil, apierror.CannotRespondToOperation("already responded to this operation")
		}

		lastProcessed, err := storage.LastProcessedOpIdx(ctx, c.store.DB(), responderIdx)
		if err != nil {
			return nil, apierror.Database(err)
		}
		if op.Idx != lastProcessed+1 {
			return nil, apierror.CannotRespondToOperation("operation is not the next one to be processed")
		}

		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return nil, apierror.Database(err)
		}
		defer tx.Rollback()

		var psbtOpFileIdx sql.NullInt64
		if in.Psbt != nil {
			fileID, err := c.files.Store(in.Psbt.TempPath)
			if err != nil {
				return nil, apierror.IO(err)
			}
			opFileIdx, err := storage.InsertOpFile(ctx, tx, fileID, storage.FilePsbt, in.OperationIdx)
			if err != nil {
				return nil, apierror.Database(err)
			}
			psbtOpFileIdx = sql.NullInt64{Int64: opFileIdx, Valid: true}
		}

		now := c.now().UTC().Unix()
		if err := storage.RecordResponse(ctx, tx, responderIdx, in.OperationIdx, in.Ack, now, psbtOpFileIdx); err != nil {
			return nil, apierror.Database(err)
		}

		acks, nacks, err := storage.CountAcksNacks(ctx, tx, in.OperationIdx)
		if err != nil {
			return nil, apierror.Database(err)
		}

		threshold := c.thresholdFor(op.Type)
		newStatus := op.Status
		statusChanged := false
		if threshold != nil {
			switch {
			case acks >= int(*threshold):
				newStatus = storage.StatusApproved
				statusChanged = true
			case nacks > c.cosignerCount-int(*threshold):
				newStatus = storage.StatusDiscarded
				statusChanged = true
			}
		}
		if statusChanged {
			if err := storage.UpdateOperationStatus(ctx, tx, in.OperationIdx, newStatus); err != nil {
				return nil, apierror.Database(err)
			}
		}

		view, err := c.buildOperationView(ctx, tx, in.OperationIdx, &responderIdx)
		if err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, apierror.Database(err)
		}

		if statusChanged {
			s := newStatus
			c.emit(Event{Type: EventOperationStatusChanged, OperationIdx: in.OperationIdx, Status: &s})
		}

		return view, nil
	})
}

// MarkOperationProcessed implements §4.3.3.
func (c *Coordinator) MarkOperationProcessed(cosignerIdx int, operationIdx int64) error {
	_, err := runShielded(func(ctx context.Context) (struct{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		op, err := storage.GetOperation(ctx, c.store.DB(), operationIdx)
		if err == sql.ErrNoRows {
			return struct{}{}, apierror.OperationNotFound()
		}
		if err != nil {
			return struct{}{}, apierror.Database(err)
		}
		if op.Status == storage.StatusPending {
			return struct{}{}, apierror.CannotMarkOperationProcessed("a pending operation cannot be marked as processed")
		}

		current, err := storage.GetCosignerOpStatus(ctx, c.store.DB(), cosignerIdx, operationIdx)
		if err == sql.ErrNoRows {
			return struct{}{}, apierror.OperationNotFound()
		}
		if err != nil {
			return struct{}{}, apierror.Database(err)
		}
		if current.ProcessedAt.Valid {
			return struct{}{}, apierror.CannotMarkOperationProcessed("already marked this operation as processed")
		}

		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return struct{}{}, apierror.Database(err)
		}
		defer tx.Rollback()

		now := c.now().UTC().Unix()
		if err := storage.MarkProcessed(ctx, tx, cosignerIdx, operationIdx, now); err != nil {
			return struct{}{}, apierror.Database(err)
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, apierror.Database(err)
		}
		return struct{}{}, nil
	})
	return err
}

// LastProcessedOpIdx is the read-only lookup backing /getlastprocessedopidx.
func (c *Coordinator) LastProcessedOpIdx(ctx context.Context, cosignerIdx int) (int64, error) {
	idx, err := storage.LastProcessedOpIdx(ctx, c.store.DB(), cosignerIdx)
	if err != nil {
		return 0, apierror.Database(err)
	}
	return idx, nil
}

// Info backs GET /info.
type Info struct {
	MinRgbLibVersion string
	MaxRgbLibVersion string
	RgbLibVersion    string
	LastOperationIdx *int64
}

// BuildInfo assembles the /info response.
func (c *Coordinator) BuildInfo(ctx context.Context, minV, maxV, curV string) (*Info, error) {
	last, err := storage.LastOperationIdx(ctx, c.store.DB())
	if err != nil {
		return nil, apierror.Database(err)
	}
	info := &Info{MinRgbLibVersion: minV, MaxRgbLibVersion: maxV, RgbLibVersion: curV}
	if last > 0 {
		info.LastOperationIdx = &last
	}
	return info, nil
}

// GetCurrentAddressIndices backs GET /getcurrentaddressindices.
func (c *Coordinator) GetCurrentAddressIndices(ctx context.Context) (internal, external *uint64, err error) {
	addrs, err := storage.LoadAddressIndices(ctx, c.store.DB())
	if err != nil {
		return nil, nil, apierror.Database(err)
	}
	if addrs.Internal > 0 {
		v := addrs.Internal - 1
		internal = &v
	}
	if addrs.External > 0 {
		v := addrs.External - 1
		external = &v
	}
	return internal, external, nil
}

// BumpAddressIndices implements §4.3.6.
func (c *Coordinator) BumpAddressIndices(internalCounter bool, count uint64) (uint64, error) {
	if count == 0 {
		return 0, apierror.InvalidCount()
	}
	return runShielded(func(ctx context.Context) (uint64, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return 0, apierror.Database(err)
		}
		defer tx.Rollback()

		first, err := storage.BumpAddressIndices(ctx, tx, internalCounter, count)
		if errors.Is(err, storage.ErrAddressIndexOverflow) {
			return 0, apierror.Unexpected("address index overflow")
		}
		if err != nil {
			return 0, apierror.Database(err)
		}
		if err := tx.Commit(); err != nil {
			return 0, apierror.Database(err)
		}
		return first, nil
	})
}
