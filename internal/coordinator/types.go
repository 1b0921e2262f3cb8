// Package coordinator implements the operation state machine: the write
// lock serializing all mutating endpoints, the cancellation shield keeping
// their critical sections alive past client disconnect, and the threshold
// logic that drives Operation.status transitions.
package coordinator

import (
	"sync"
	"time"

	"github.com/opsbridge/msigbridge/internal/filestore"
	"github.com/opsbridge/msigbridge/internal/storage"
	"github.com/opsbridge/msigbridge/pkg/logging"
)

// EventType names a fan-out event emitted on the operation feed (§4.4a).
type EventType string

const (
	EventOperationPosted        EventType = "operation_posted"
	EventOperationStatusChanged EventType = "operation_status_changed"
)

// Event is broadcast to every registered handler after a mutating
// transaction commits. Status is nil for EventOperationPosted.
type Event struct {
	Type         EventType
	OperationIdx int64
	Status       *storage.OperationStatus
}

// EventHandler receives fan-out events. Handlers are invoked on their own
// goroutine and must not block the coordinator.
type EventHandler func(Event)

// PendingFile is one file streamed to a temp path by the HTTP layer, ready
// to be committed into the file store as part of a coordinator transaction.
type PendingFile struct {
	Kind     storage.OpFileType
	TempPath string
}

// Coordinator owns the write lock and every state-machine operation.
type Coordinator struct {
	store *storage.Storage
	files *filestore.Store
	log   *logging.Logger

	cosignerByXpub map[string]int
	cosignerByIdx  map[int]string
	cosignerCount  int

	thresholdColored uint8
	thresholdVanilla uint8

	mu sync.Mutex

	eventMu  sync.Mutex
	handlers []EventHandler

	now func() time.Time
}

// Config bundles what New needs beyond the store and file store.
type Config struct {
	Store            *storage.Storage
	Files            *filestore.Store
	Log              *logging.Logger
	Cosigners        []storage.Cosigner
	ThresholdColored uint8
	ThresholdVanilla uint8
}

// New builds a Coordinator from the fixed, already-validated cosigner set.
func New(cfg Config) *Coordinator {
	byXpub := make(map[string]int, len(cfg.Cosigners))
	byIdx := make(map[int]string, len(cfg.Cosigners))
	for _, c := range cfg.Cosigners {
		byXpub[c.Xpub] = c.Idx
		byIdx[c.Idx] = c.Xpub
	}

	log := cfg.Log
	if log == nil {
		log = logging.GetDefault()
	}

	return &Coordinator{
		store:            cfg.Store,
		files:            cfg.Files,
		log:              log.Component("coordinator"),
		cosignerByXpub:   byXpub,
		cosignerByIdx:    byIdx,
		cosignerCount:    len(cfg.Cosigners),
		thresholdColored: cfg.ThresholdColored,
		thresholdVanilla: cfg.ThresholdVanilla,
		now:              time.Now,
	}
}

// CosignerIdx resolves a registered xpub to its cosigner index.
func (c *Coordinator) CosignerIdx(xpub string) (int, bool) {
	idx, ok := c.cosignerByXpub[xpub]
	return idx, ok
}

// CosignerXpub resolves a cosigner index back to its xpub.
func (c *Coordinator) CosignerXpub(idx int) (string, bool) {
	xpub, ok := c.cosignerByIdx[idx]
	return xpub, ok
}

// Files exposes the content-addressed store for handlers that stream files
// directly (e.g. /getfile, multipart upload staging).
func (c *Coordinator) Files() *filestore.Store {
	return c.files
}

// OnEvent registers a handler invoked for every fan-out event.
func (c *Coordinator) OnEvent(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// emit fans an event out to every registered handler without blocking the
// caller; a slow or absent subscriber never delays a commit's response.
func (c *Coordinator) emit(ev Event) {
	c.eventMu.Lock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.eventMu.Unlock()

	for _, h := range handlers {
		go h(ev)
	}
}

// thresholdFor returns the ACK threshold for opType, or nil for
// auto-approved types that never enter a response cycle.
func (c *Coordinator) thresholdFor(opType storage.OperationType) *uint8 {
	if opType.AutoApproved() {
		return nil
	}
	var t uint8
	if opType.Colored() {
		t = c.thresholdColored
	} else {
		t = c.thresholdVanilla
	}
	return &t
}
