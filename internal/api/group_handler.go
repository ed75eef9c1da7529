package api

import (
	"context"
	"net/http"
	"time"

	"recoverflow/internal/dto/req"
	"recoverflow/internal/dto/resp"
	"recoverflow/internal/model"
	"recoverflow/internal/service"

	"github.com/gin-gonic/gin"
)

type GroupProvider interface {
	ListGroups(ctx context.Context, classifier string) ([]model.GroupSummary, error)
	GetGroup(ctx context.Context, groupID string) (*model.FailureGroup, error)
	GroupMessages(ctx context.Context, groupID string, status model.FailedMessageStatus) ([]string, error)
	SetComment(ctx context.Context, groupID, comment string) error
}

type ArchiveProvider interface {
	ArchiveGroup(ctx context.Context, groupID string, cutOff time.Time) (service.ArchiveResult, error)
	UnarchiveGroup(ctx context.Context, groupID string, cutOff time.Time) (service.ArchiveResult, error)
}

type GroupHandler struct {
	groups  GroupProvider
	archive ArchiveProvider
}

func NewGroupHandler(groups GroupProvider, archive ArchiveProvider) *GroupHandler {
	return &GroupHandler{groups: groups, archive: archive}
}

func (h *GroupHandler) ListGroups(c *gin.Context) {
	var r req.ListGroupsReq
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	groups, err := h.groups.ListGroups(c.Request.Context(), r.Classifier)
	if err != nil {
		writeError(c, err)
		return
	}
	if groups == nil {
		groups = []model.GroupSummary{}
	}
	c.JSON(http.StatusOK, resp.GroupListResp{Data: groups})
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	g, err := h.groups.GetGroup(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) GroupMessages(c *gin.Context) {
	var r req.GroupMessagesReq
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := model.FailedMessageStatus(r.Status)
	if status != "" && !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + r.Status})
		return
	}
	groupID := c.Param("group_id")
	ids, err := h.groups.GroupMessages(c.Request.Context(), groupID, status)
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, resp.GroupMessagesResp{GroupID: groupID, Status: r.Status, IDs: ids})
}

func (h *GroupHandler) SetComment(c *gin.Context) {
	var r req.CommentReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.groups.SetComment(c.Request.Context(), c.Param("group_id"), r.Comment); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) DeleteComment(c *gin.Context) {
	if err := h.groups.SetComment(c.Request.Context(), c.Param("group_id"), ""); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) Archive(c *gin.Context) {
	h.transition(c, h.archive.ArchiveGroup)
}

func (h *GroupHandler) Unarchive(c *gin.Context) {
	h.transition(c, h.archive.UnarchiveGroup)
}

func (h *GroupHandler) transition(c *gin.Context, fn func(context.Context, string, time.Time) (service.ArchiveResult, error)) {
	var r req.CutOffReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := fn(c.Request.Context(), c.Param("group_id"), r.Time())
	if err != nil {
		writeError(c, err)
		return
	}
	ids := res.AffectedIDs
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, resp.ArchiveResp{
		GroupID:          res.GroupID,
		GroupName:        res.GroupTitle,
		CutOff:           res.CutOff,
		MessagesCount:    len(ids),
		FailedMessageIDs: ids,
	})
}
