package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/LCodingX/influence-dashboard/internal/catalog"
)

type ModelsHandler struct {
	catalog *catalog.Catalog
}

func NewModelsHandler(cat *catalog.Catalog) *ModelsHandler {
	return &ModelsHandler{catalog: cat}
}

// GET /api/models
func (h *ModelsHandler) ListModels(c *gin.Context) {
	RespondOK(c, h.catalog)
}
