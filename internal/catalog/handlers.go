package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for catalog management and search.
type Handler struct {
	store Store
}

// NewHandler creates a new catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterOwnerRoutes sets up catalog management routes.
func (h *Handler) RegisterOwnerRoutes(r *gin.RouterGroup) {
	r.POST("/update", h.UpdateCatalog)
	r.GET("/product_statistics", h.ProductStatistics)
	r.GET("/category_statistics", h.CategoryStatistics)
}

// RegisterCustomerRoutes sets up catalog browsing routes.
func (h *Handler) RegisterCustomerRoutes(r *gin.RouterGroup) {
	r.GET("/search", h.Search)
}

// UpdateCatalog handles POST /owner/update. The upload is a CSV file
// under the "file" form field; each record is "cat1|cat2,name,price".
// The whole batch is rejected on the first bad line or duplicate name.
func (h *Handler) UpdateCatalog(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Missing product file."})
		return
	}
	defer file.Close()

	products, err := ParseCSV(file)
	if err != nil {
		var lineErr *LineError
		if errors.As(err, &lineErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file", "message": lineErr.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file", "message": "Malformed product file."})
		return
	}

	if err := h.store.AddProducts(c.Request.Context(), products); err != nil {
		var existsErr *ProductExistsError
		if errors.As(err, &existsErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate_product", "message": existsErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Internal server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": ""})
}

// ProductStatistics handles GET /owner/product_statistics
func (h *Handler) ProductStatistics(c *gin.Context) {
	stats, err := h.store.ProductStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Internal server error."})
		return
	}
	if stats == nil {
		stats = []ProductStat{}
	}
	c.JSON(http.StatusOK, gin.H{"statistics": stats})
}

// CategoryStatistics handles GET /owner/category_statistics
func (h *Handler) CategoryStatistics(c *gin.Context) {
	names, err := h.store.CategoryStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Internal server error."})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"statistics": names})
}

// Search handles GET /customer/search
func (h *Handler) Search(c *gin.Context) {
	result, err := h.store.Search(c.Request.Context(), c.Query("name"), c.Query("category"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Internal server error."})
		return
	}
	c.JSON(http.StatusOK, result)
}
