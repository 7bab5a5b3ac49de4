package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"alumni/internal/auth"
	"alumni/internal/errs"
	"alumni/internal/records"
)

func (h *handler) createStudent(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.badRequest(c, err)
		return
	}
	doc, err := h.svc.CreateStudent(c.Request.Context(), auth.PrincipalFrom(c), fields)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "student": doc})
}

func (h *handler) getStudent(c *gin.Context) {
	doc, err := h.svc.GetStudent(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type patchRequest struct {
	Changes records.Changes `json:"changes" binding:"required"`
	Version *int64          `json:"version" binding:"required"`
}

func (h *handler) patchStudent(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	doc, err := h.svc.PatchStudent(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"), req.Changes, *req.Version)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "student": doc})
}

func (h *handler) parseResume(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.svc.ParseResume(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"), req.Text)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	if !res.OK {
		c.JSON(http.StatusOK, gin.H{"ok": false, "message": res.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "student": res.Student, "parsed": res.Parsed})
}

func (h *handler) submitResume(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.svc.SubmitResume(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"), req.Path); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "queued": true})
}

func (h *handler) listAudit(c *gin.Context) {
	entries, err := h.svc.ListAudit(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	if entries == nil {
		entries = []records.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": entries})
}

func (h *handler) createBulk(c *gin.Context) {
	var req struct {
		Rows      []map[string]any `json:"rows" binding:"required"`
		CollegeID string           `json:"collegeId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ids, err := h.svc.CreateBulk(c.Request.Context(), auth.PrincipalFrom(c), req.Rows, req.CollegeID)
	if err != nil {
		h.writeError(c, err, gin.H{"createdCount": len(ids), "ids": ids})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "createdCount": len(ids), "ids": ids})
}

func (h *handler) createCollege(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.badRequest(c, err)
		return
	}
	doc, err := h.svc.CreateCollege(c.Request.Context(), auth.PrincipalFrom(c), fields)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "college": doc})
}

func (h *handler) linkStudent(c *gin.Context) {
	alumniID, collegeID := c.Query("alumniId"), c.Query("collegeId")
	if alumniID == "" || collegeID == "" {
		h.writeError(c, errs.Invalid("alumniId and collegeId query parameters are required"), nil)
		return
	}
	doc, err := h.svc.LinkStudent(c.Request.Context(), auth.PrincipalFrom(c), alumniID, collegeID)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "student": doc})
}

func (h *handler) bulkEmail(c *gin.Context) {
	var req records.BulkEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.svc.BulkEmail(c.Request.Context(), auth.PrincipalFrom(c), req)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	switch {
	case res.Preview:
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"preview": gin.H{"recipientCount": res.RecipientCount, "emails": res.Recipients},
		})
	case !res.OK:
		c.JSON(http.StatusOK, gin.H{"ok": false, "message": res.Message})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "sent": res.Sent, "status": res.Status, "skipped": res.Skipped})
	}
}

func (h *handler) registerWebhook(c *gin.Context) {
	var req struct {
		CollegeID  string `json:"collegeId" binding:"required"`
		URL        string `json:"url" binding:"required"`
		HMACSecret string `json:"hmacSecret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	reg := records.WebhookRegistration{CollegeID: req.CollegeID, URL: req.URL, HMACSecret: req.HMACSecret}
	if err := h.svc.RegisterWebhook(c.Request.Context(), auth.PrincipalFrom(c), reg); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
