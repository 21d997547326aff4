// Package httpapi adapts JSON-over-HTTP requests to pkg/engine calls,
// built as a Gin router the way the retrieval pack's
// ppriyankuu-godkv/internal/api package wires its Handler: one struct
// holding the engine, one Register method mounting every route.
package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/embeddb/embeddb/internal/valuejson"
	"github.com/embeddb/embeddb/pkg/dberrors"
	"github.com/embeddb/embeddb/pkg/engine"
	"github.com/embeddb/embeddb/pkg/filter"
	"github.com/embeddb/embeddb/pkg/schema"
	"github.com/embeddb/embeddb/pkg/value"
	"github.com/embeddb/embeddb/pkg/vector"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Embedder matches engine.Embedder; declared here too so callers of this
// package don't need to import pkg/engine just to supply one.
type Embedder = engine.Embedder

// Handler holds the engine dependency injected from main and exposes it
// over HTTP.
type Handler struct {
	engine   *engine.Engine
	embedder Embedder
}

// NewHandler builds a Handler. embedder backs the jobs/process endpoint.
func NewHandler(e *engine.Engine, embedder Embedder) *Handler {
	return &Handler{engine: e, embedder: embedder}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	tables := r.Group("/tables")
	tables.GET("", h.ListTables)
	tables.POST("", h.CreateTable)
	tables.GET("/:table", h.DescribeTable)
	tables.GET("/:table/stats", h.TableStats)

	tables.POST("/:table/rows", h.InsertRow)
	tables.PUT("/:table/rows/:id", h.UpdateRow)
	tables.GET("/:table/rows/:id", h.GetRow)
	tables.DELETE("/:table/rows/:id", h.DeleteRow)

	tables.POST("/:table/search", h.Search)

	tables.GET("/:table/jobs", h.ListJobs)
	tables.POST("/:table/jobs/retry", h.RetryJobs)
	tables.POST("/:table/jobs/process", h.ProcessJobs)

	tables.POST("/:table/flush", h.Flush)
	tables.POST("/:table/compact", h.Compact)

	r.POST("/checkpoint", h.Checkpoint)
	r.POST("/snapshot/export", h.ExportSnapshot)
	r.POST("/snapshot/restore", h.RestoreSnapshot)
	r.GET("/stats", h.DbStats)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListTables handles GET /tables.
func (h *Handler) ListTables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tables": h.engine.ListTables()})
}

type createTableRequest struct {
	Name         string              `json:"name" binding:"required"`
	Columns      []columnRequest     `json:"columns" binding:"required"`
	EmbedFields  []string            `json:"embed_fields"`
}

type columnRequest struct {
	Name     string `json:"name" binding:"required"`
	DataType string `json:"data_type" binding:"required"`
	Nullable bool   `json:"nullable"`
}

// CreateTable handles POST /tables.
func (h *Handler) CreateTable(c *gin.Context) {
	var req createTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	columns := make([]schema.Column, 0, len(req.Columns))
	for _, col := range req.Columns {
		dt, ok := parseDataType(col.DataType)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown data_type " + col.DataType})
			return
		}
		columns = append(columns, schema.Column{Name: col.Name, DataType: dt, Nullable: col.Nullable})
	}

	var spec *schema.EmbeddingSpec
	if len(req.EmbedFields) > 0 {
		spec = &schema.EmbeddingSpec{SourceFields: req.EmbedFields}
	}

	if err := h.engine.CreateTable(req.Name, schema.TableSchema{Columns: columns}, spec); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": req.Name})
}

func parseDataType(name string) (value.Type, bool) {
	switch name {
	case "int":
		return value.TypeInt, true
	case "float":
		return value.TypeFloat, true
	case "bool":
		return value.TypeBool, true
	case "string":
		return value.TypeString, true
	case "bytes":
		return value.TypeBytes, true
	case "null":
		return value.TypeNull, true
	default:
		return 0, false
	}
}

// DescribeTable handles GET /tables/:table.
func (h *Handler) DescribeTable(c *gin.Context) {
	table := c.Param("table")
	sch, spec, err := h.engine.DescribeTable(table)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema": sch, "embedding_spec": spec})
}

// TableStats handles GET /tables/:table/stats.
func (h *Handler) TableStats(c *gin.Context) {
	stats, err := h.engine.TableStats(c.Param("table"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// InsertRow handles POST /tables/:table/rows. Body: {"fields": {...}}.
func (h *Handler) InsertRow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields, err := decodeRowBody(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.engine.InsertRow(c.Param("table"), fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// UpdateRow handles PUT /tables/:table/rows/:id.
func (h *Handler) UpdateRow(c *gin.Context) {
	rowID, ok := parseRowID(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields, err := decodeRowBody(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.UpdateRow(c.Param("table"), rowID, fields); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": rowID})
}

type rowBody struct {
	Fields map[string]interface{} `json:"fields"`
}

func decodeRowBody(body []byte) (map[string]value.Value, error) {
	var rb rowBody
	if len(body) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&rb); err != nil {
			return nil, err
		}
	}
	fields := make(map[string]value.Value, len(rb.Fields))
	for k, v := range rb.Fields {
		val, err := valuejson.FromJSON(v)
		if err != nil {
			return nil, err
		}
		fields[k] = val
	}
	return fields, nil
}

// GetRow handles GET /tables/:table/rows/:id.
func (h *Handler) GetRow(c *gin.Context) {
	rowID, ok := parseRowID(c)
	if !ok {
		return
	}
	row, err := h.engine.GetRow(c.Param("table"), rowID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": row.ID, "fields": valuejson.EncodeFields(row.Fields)})
}

// DeleteRow handles DELETE /tables/:table/rows/:id.
func (h *Handler) DeleteRow(c *gin.Context) {
	rowID, ok := parseRowID(c)
	if !ok {
		return
	}
	if err := h.engine.DeleteRow(c.Param("table"), rowID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": rowID})
}

func parseRowID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid row id"})
		return 0, false
	}
	return id, true
}

type searchRequest struct {
	Query   []float64          `json:"query" binding:"required"`
	K       int                `json:"k"`
	Metric  string             `json:"metric"`
	Filters []filterRequest    `json:"filters"`
}

type filterRequest struct {
	Column string      `json:"column" binding:"required"`
	Op     string      `json:"op" binding:"required"`
	Value  interface{} `json:"value"`
}

// Search handles POST /tables/:table/search.
func (h *Handler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.K <= 0 {
		req.K = 5
	}
	metric, ok := parseMetric(req.Metric)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metric must be cosine or l2"})
		return
	}

	query := make([]float32, len(req.Query))
	for i, v := range req.Query {
		query[i] = float32(v)
	}

	table := c.Param("table")
	var conditions []filter.Condition
	if len(req.Filters) > 0 {
		sch, _, err := h.engine.DescribeTable(table)
		if err != nil {
			writeError(c, err)
			return
		}
		for _, f := range req.Filters {
			op, ok := parseOp(f.Op)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown filter op " + f.Op})
				return
			}
			v, err := valuejson.FromJSON(f.Value)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			cond := filter.Condition{Column: f.Column, Op: op, Value: v}
			if err := filter.Validate(sch, cond); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			conditions = append(conditions, cond)
		}
	}

	hits, err := h.engine.SearchKNNFiltered(table, query, req.K, metric, conditions)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

func parseMetric(name string) (vector.Metric, bool) {
	switch name {
	case "", "cosine":
		return vector.MetricCosine, true
	case "l2":
		return vector.MetricL2, true
	default:
		return 0, false
	}
}

func parseOp(name string) (filter.Op, bool) {
	switch name {
	case "eq":
		return filter.OpEq, true
	case "neq":
		return filter.OpNeq, true
	case "lt":
		return filter.OpLt, true
	case "lte":
		return filter.OpLte, true
	case "gt":
		return filter.OpGt, true
	case "gte":
		return filter.OpGte, true
	default:
		return 0, false
	}
}

// ListJobs handles GET /tables/:table/jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.engine.ListEmbeddingJobs(c.Param("table"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

type retryJobsRequest struct {
	RowID *uint64 `json:"row_id"`
}

// RetryJobs handles POST /tables/:table/jobs/retry.
func (h *Handler) RetryJobs(c *gin.Context) {
	var req retryJobsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	count, err := h.engine.RetryFailedJobs(c.Param("table"), req.RowID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": count})
}

type processJobsRequest struct {
	Limit *int `json:"limit"`
}

// ProcessJobs handles POST /tables/:table/jobs/process.
func (h *Handler) ProcessJobs(c *gin.Context) {
	var req processJobsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	count, err := h.engine.ProcessPendingJobs(c.Request.Context(), c.Param("table"), h.embedder, nowMs(), req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": count})
}

func nowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// Flush handles POST /tables/:table/flush.
func (h *Handler) Flush(c *gin.Context) {
	if err := h.engine.FlushTable(c.Param("table")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": c.Param("table")})
}

// Compact handles POST /tables/:table/compact.
func (h *Handler) Compact(c *gin.Context) {
	if err := h.engine.CompactTable(c.Param("table")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"compacted": c.Param("table")})
}

// Checkpoint handles POST /checkpoint.
func (h *Handler) Checkpoint(c *gin.Context) {
	result, err := h.engine.Checkpoint()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type snapshotExportRequest struct {
	Dest string `json:"dest" binding:"required"`
}

// ExportSnapshot handles POST /snapshot/export.
func (h *Handler) ExportSnapshot(c *gin.Context) {
	var req snapshotExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.engine.ExportSnapshot(req.Dest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type snapshotRestoreRequest struct {
	Src  string `json:"src" binding:"required"`
	Dest string `json:"dest" binding:"required"`
}

// RestoreSnapshot handles POST /snapshot/restore.
func (h *Handler) RestoreSnapshot(c *gin.Context) {
	var req snapshotRestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := engine.RestoreSnapshot(req.Src, req.Dest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DbStats handles GET /stats.
func (h *Handler) DbStats(c *gin.Context) {
	stats, err := h.engine.DbStats()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// writeError maps a dberrors taxonomy value to an HTTP status code, the
// way the teacher's handlers translate domain errors one gin.H at a time.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch err.(type) {
	case *dberrors.TableNotFoundError, *dberrors.RowNotFoundError:
		status = http.StatusNotFound
	case *dberrors.TableExistsError:
		status = http.StatusConflict
	case *dberrors.ValidationError:
		status = http.StatusBadRequest
	case *dberrors.LockedError:
		status = http.StatusConflict
	}
	log.Error().Err(err).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
