package controllers

import (
	"minidrive/services"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
)

type SearchController struct {
	nodeService      *services.NodeService
	analyticsService *services.AnalyticsService
}

func NewSearchController(nodeService *services.NodeService, analyticsService *services.AnalyticsService) *SearchController {
	return &SearchController{
		nodeService:      nodeService,
		analyticsService: analyticsService,
	}
}

// Search handles GET /files?q=&type=&parent_id=&min_size=&max_size=&limit=&offset=.
// parent_id=root limits results to top-level items.
func (sc *SearchController) Search(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	q := services.SearchQuery{
		Query: c.Query("q"),
		Type:  c.Query("type"),
	}
	if parent, ok := c.GetQuery("parent_id"); ok {
		if parent == "root" {
			parent = ""
		}
		q.ParentID = &parent
	}

	var err error
	if q.MinSize, err = queryInt64Ptr(c, "min_size"); err != nil {
		utils.BadRequestResponse(c, "Invalid query", err.Error())
		return
	}
	if q.MaxSize, err = queryInt64Ptr(c, "max_size"); err != nil {
		utils.BadRequestResponse(c, "Invalid query", err.Error())
		return
	}
	if q.Limit, err = queryInt(c, "limit", 0); err != nil {
		utils.BadRequestResponse(c, "Invalid query", err.Error())
		return
	}
	if q.Offset, err = queryInt(c, "offset", 0); err != nil {
		utils.BadRequestResponse(c, "Invalid query", err.Error())
		return
	}

	nodes, err := sc.nodeService.Search(c.Request.Context(), userID, q)
	if err != nil {
		utils.HandleServiceError(c, "Search failed", err)
		return
	}
	utils.SuccessResponse(c, "Search completed", gin.H{
		"items":  nodes,
		"count":  len(nodes),
		"offset": q.Offset,
	})
}

// Stats handles GET /stats.
func (sc *SearchController) Stats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := sc.analyticsService.Usage(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, "Failed to compute usage", err)
		return
	}
	utils.SuccessResponse(c, "Usage retrieved", stats)
}
