package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/repos"
	"github.com/clipnote/clipnote-backend/internal/requestdata"
	"github.com/clipnote/clipnote-backend/internal/types"
)

var (
	errEmptyName          = errors.New("name must not be empty")
	errCollectionNotFound = errors.New("collection not found")
)

type CollectionHandler struct {
	log            *logger.Logger
	collectionRepo repos.CollectionRepo
}

func NewCollectionHandler(log *logger.Logger, collectionRepo repos.CollectionRepo) *CollectionHandler {
	return &CollectionHandler{
		log:            log.With("handler", "CollectionHandler"),
		collectionRepo: collectionRepo,
	}
}

type collectionRequest struct {
	Name string `json:"name" binding:"required"`
}

// POST /api/collections
func (h *CollectionHandler) Create(c *gin.Context) {
	var req collectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		RespondError(c, http.StatusBadRequest, "validation_failed", errEmptyName)
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	row, err := h.collectionRepo.Create(c.Request.Context(), nil, &types.Collection{OwnerID: ownerID, Name: name})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	RespondCreated(c, gin.H{"collection": row})
}

// GET /api/collections
func (h *CollectionHandler) List(c *gin.Context) {
	ownerID := requestdata.OwnerID(c.Request.Context())
	rows, err := h.collectionRepo.ListByOwner(c.Request.Context(), nil, ownerID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	RespondOK(c, gin.H{"collections": rows})
}

// PUT /api/collections/:id
func (h *CollectionHandler) Rename(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req collectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	existing, err := h.collectionRepo.GetOwned(c.Request.Context(), nil, ownerID, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if existing == nil {
		RespondError(c, http.StatusNotFound, "not_found", errCollectionNotFound)
		return
	}
	if err := h.collectionRepo.Rename(c.Request.Context(), nil, ownerID, id, strings.TrimSpace(req.Name)); err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	existing.Name = strings.TrimSpace(req.Name)
	RespondOK(c, gin.H{"collection": existing})
}

// DELETE /api/collections/:id
// Videos keep existing; their collection_id is cleared by the FK.
func (h *CollectionHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	existing, err := h.collectionRepo.GetOwned(c.Request.Context(), nil, ownerID, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if existing == nil {
		RespondError(c, http.StatusNotFound, "not_found", errCollectionNotFound)
		return
	}
	if err := h.collectionRepo.Delete(c.Request.Context(), nil, ownerID, id); err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	c.Status(http.StatusNoContent)
}
