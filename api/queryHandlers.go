package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/mmdatafocus/metalstock_backend/models/reports"
	"github.com/mmdatafocus/metalstock_backend/utils"
	"github.com/mmdatafocus/metalstock_backend/workflow"
)

func metalQuery(c *gin.Context) (models.MetalType, error) {
	raw := c.Query("metal")
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	metal, err := models.ParseMetalType(raw)
	if err != nil {
		return "", models.NewValidationError("metal", "is invalid")
	}
	return metal, nil
}

func bucketFilterQuery(c *gin.Context) (models.BucketFilter, error) {
	var filter models.BucketFilter
	var err error
	if filter.MetalType, err = metalQuery(c); err != nil {
		return filter, err
	}
	if raw := c.Query("stock"); strings.TrimSpace(raw) != "" {
		if filter.StockType, err = models.ParseStockType(raw); err != nil {
			return filter, models.NewValidationError("stock", "is invalid")
		}
	}
	if raw := c.Query("purity"); strings.TrimSpace(raw) != "" {
		filter.Purity = models.ParsePurity(raw)
	}
	if loc, ok := c.GetQuery("location"); ok {
		filter.Location = &loc
	}
	return filter, nil
}

func bucketKeyParam(c *gin.Context) (models.BucketKey, error) {
	key := models.BucketKey{
		MetalType: models.MetalType(c.Param("metal")),
		StockType: models.StockType(c.Param("stock")),
		Purity:    models.Purity(c.Param("purity")),
		Location:  c.Query("location"),
	}.Normalize()
	return key, key.Validate()
}

func (h *Handler) listBuckets(c *gin.Context) {
	filter, err := bucketFilterQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	buckets, err := h.ledger.ListBuckets(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]workflow.BucketState, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, workflow.NewBucketState(b))
	}
	c.JSON(http.StatusOK, gin.H{"buckets": out})
}

func (h *Handler) getBucket(c *gin.Context) {
	key, err := bucketKeyParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	bucket, err := h.ledger.GetBucket(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, workflow.NewBucketState(bucket))
}

func (h *Handler) listMovements(c *gin.Context) {
	key, err := bucketKeyParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	from, err := utils.ParseDate(c.Query("from"))
	if err != nil {
		writeError(c, models.NewValidationError("from", "is not a date"))
		return
	}
	to, err := utils.ParseDate(c.Query("to"))
	if err != nil {
		writeError(c, models.NewValidationError("to", "is not a date"))
		return
	}
	movements, err := h.ledger.ListMovements(c.Request.Context(), key, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": key, "movements": movements})
}

func (h *Handler) reconcileBucket(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		writeError(c, models.NewValidationError("id", "is not a bucket id"))
		return
	}
	result, err := h.ledger.Reconcile(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) reconcileAll(c *gin.Context) {
	summary, err := h.ledger.ReconcileAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) retryFailures(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "retry queue not configured"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, models.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = n
	}
	summary, err := h.dispatcher.RetryFailedReactions(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) weightedAverage(c *gin.Context) {
	metal, err := metalQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	unit := models.RateUnitGram
	if raw := c.Query("unit"); raw != "" {
		var ok bool
		if unit, ok = models.ParseRateUnit(raw); !ok {
			writeError(c, models.NewValidationError("unit", "is invalid"))
			return
		}
	}
	rate, err := h.ledger.WeightedAverageRateFor(c.Request.Context(), metal, unit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metal_type": metal, "unit": unit, "rate": rate})
}

func (h *Handler) totalValue(c *gin.Context) {
	metal, err := metalQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	total, err := h.ledger.TotalValueFor(c.Request.Context(), metal)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metal_type": metal, "total_value": total})
}

func (h *Handler) stockSummary(c *gin.Context) {
	filter, err := bucketFilterQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	summary, err := h.ledger.StockSummary(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) stockSummaryXLSX(c *gin.Context) {
	filter, err := bucketFilterQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	withMovements := strings.EqualFold(c.Query("movements"), "true")
	data, err := reports.StockSummaryXLSX(c.Request.Context(), h.ledger, filter, withMovements)
	if err != nil {
		writeError(c, err)
		return
	}
	name := "all"
	if filter.MetalType != "" {
		name = string(filter.MetalType)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=stock-summary-%s.xlsx", name))
	c.Data(http.StatusOK, reports.XLSXContentType, data)
}
