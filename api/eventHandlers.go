package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/metalstock_backend/models"
)

type updateEventRequest struct {
	Before models.MetalEvent `json:"before"`
	After  models.MetalEvent `json:"after"`
}

func referenceTypeParam(c *gin.Context) (models.ReferenceType, error) {
	rt, err := models.ParseReferenceType(c.Param("type"))
	if err != nil {
		return "", models.NewValidationError("reference_type", "is invalid")
	}
	return rt, nil
}

// bindEvent decodes the body; an empty body is allowed when allowEmpty.
func bindEvent(c *gin.Context, dest any, allowEmpty bool) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return models.NewValidationError("body", "is not valid JSON: "+err.Error())
	}
	return nil
}

// pathReference fills an empty reference id from the path and rejects a conflicting one.
func pathReference(e *models.MetalEvent, id string) error {
	id = strings.TrimSpace(id)
	if strings.TrimSpace(e.ReferenceId) == "" {
		e.ReferenceId = id
		return nil
	}
	if strings.TrimSpace(e.ReferenceId) != id {
		return models.NewValidationError("reference_id", "does not match the path")
	}
	return nil
}

func (h *Handler) createEvent(c *gin.Context) {
	rt, err := referenceTypeParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var event models.MetalEvent
	if err := bindEvent(c, &event, false); err != nil {
		writeError(c, err)
		return
	}
	result, err := h.ledger.Apply(c.Request.Context(), models.ReactionActionCreate, rt, nil, &event)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) updateEvent(c *gin.Context) {
	rt, err := referenceTypeParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req updateEventRequest
	if err := bindEvent(c, &req, false); err != nil {
		writeError(c, err)
		return
	}
	if err := pathReference(&req.Before, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	if err := pathReference(&req.After, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	result, err := h.ledger.Apply(c.Request.Context(), models.ReactionActionUpdate, rt, &req.Before, &req.After)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// deleteEvent accepts the deleted record's snapshot as an optional body; without it the
// reference alone is enough to find and reverse its movements.
func (h *Handler) deleteEvent(c *gin.Context) {
	rt, err := referenceTypeParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var event models.MetalEvent
	if err := bindEvent(c, &event, true); err != nil {
		writeError(c, err)
		return
	}
	if err := pathReference(&event, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	result, err := h.ledger.Apply(c.Request.Context(), models.ReactionActionDelete, rt, &event, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
