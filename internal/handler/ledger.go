// Package handler serves the read-only custody audit API over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/custodyledger/internal/custody"
	"github.com/jmerrifield20/custodyledger/internal/ledger"
	"github.com/jmerrifield20/custodyledger/internal/record"
	"github.com/jmerrifield20/custodyledger/internal/verify"
	"go.uber.org/zap"
)

// LedgerHandler exposes read-only HTTP endpoints for a custody ledger.
type LedgerHandler struct {
	ledger *ledger.Ledger
	index  *custody.Index
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l *ledger.Ledger, index *custody.Index, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, index: index, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/records/:idx", h.GetRecord)
		l.GET("/items", h.ListItems)
		l.GET("/items/:id", h.GetItem)
		l.GET("/items/:id/history", h.GetHistory)
		l.GET("/cases/:id", h.GetCase)
	}
}

// recordView is a record as served over HTTP.
type recordView struct {
	*record.Record
	Hash record.Digest `json:"hash"`
	Time time.Time     `json:"time"`
}

func viewOf(r *record.Record) recordView {
	return recordView{Record: r, Hash: r.Hash(), Time: r.Time()}
}

// Overview handles GET /ledger: returns the record count and tip hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		h.fail(c, "ledger Len", err)
		return
	}
	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.fail(c, "ledger Root", err)
		return
	}
	v, err := h.ledger.Stat()
	if err != nil {
		h.fail(c, "ledger Stat", err)
		return
	}
	SetLedgerSize(count, v.Size)

	c.JSON(http.StatusOK, gin.H{
		"records":  count,
		"root":     root,
		"bytes":    v.Size,
		"modified": v.ModTime.UTC(),
	})
}

// Verify handles GET /ledger/verify: walks the full chain and returns the report.
func (h *LedgerHandler) Verify(c *gin.Context) {
	rep, err := verify.Verify(c.Request.Context(), h.ledger)
	if err != nil {
		h.fail(c, "ledger verify", err)
		return
	}
	RecordVerify(rep)
	if !rep.Valid() {
		h.logger.Warn("ledger integrity check failed",
			zap.String("status", string(rep.Status)),
			zap.Int("blocks_checked", rep.BlocksChecked),
		)
	}
	c.JSON(http.StatusOK, rep)
}

// GetRecord handles GET /ledger/records/:idx: returns a single record.
func (h *LedgerHandler) GetRecord(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	sc := h.ledger.Scan(c.Request.Context())
	defer sc.Close()
	for sc.Next() {
		if sc.Index()-1 == idx {
			c.JSON(http.StatusOK, gin.H{"index": idx, "record": viewOf(sc.Record())})
			return
		}
	}
	if err := sc.Err(); err != nil {
		h.fail(c, "ledger scan", err)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
}

// ListItems handles GET /ledger/items: returns every item's current state.
func (h *LedgerHandler) ListItems(c *gin.Context) {
	if !h.refresh(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.index.Items()})
}

// GetItem handles GET /ledger/items/:id.
func (h *LedgerHandler) GetItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok || !h.refresh(c) {
		return
	}
	it, err := h.index.Item(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.JSON(http.StatusOK, it)
}

// GetHistory handles GET /ledger/items/:id/history: every record for one
// item, oldest first.
func (h *LedgerHandler) GetHistory(c *gin.Context) {
	id, ok := itemID(c)
	if !ok || !h.refresh(c) {
		return
	}
	records, err := h.index.History(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	out := make([]recordView, len(records))
	for i, r := range records {
		out[i] = viewOf(r)
	}
	c.JSON(http.StatusOK, gin.H{"item_id": id, "records": out})
}

// GetCase handles GET /ledger/cases/:id: items added under one case.
func (h *LedgerHandler) GetCase(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}
	if !h.refresh(c) {
		return
	}
	items := h.index.Case(id)
	if len(items) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": id, "items": items})
}

func (h *LedgerHandler) refresh(c *gin.Context) bool {
	if err := h.index.Refresh(c.Request.Context()); err != nil {
		h.fail(c, "custody index refresh", err)
		return false
	}
	return true
}

func (h *LedgerHandler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, ledger.ErrNotInitialized) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not initialized"})
		return
	}
	h.logger.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
}

func itemID(c *gin.Context) (uint32, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an unsigned 32-bit integer"})
		return 0, false
	}
	return uint32(id), true
}
