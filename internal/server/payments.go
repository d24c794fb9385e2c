package server

import (
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/kiloan-app/kiloan/internal/payment/domain"
)

type createIntentRequest struct {
	TenantID      string `json:"tenant_id" binding:"required"`
	OwnerType     string `json:"owner_type" binding:"required"`
	OwnerID       string `json:"owner_id" binding:"required"`
	Amount        int64  `json:"amount"`
	ForceNew      bool   `json:"force_new"`
	ExpiryMinutes int    `json:"expiry_minutes"`
}

func (s *Server) createPaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": err.Error()}})
		return
	}
	tenantID, err := snowflake.ParseString(req.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid tenant_id"}})
		return
	}
	ownerID, err := snowflake.ParseString(req.OwnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid owner_id"}})
		return
	}

	intent, err := s.intentSvc.CreateQrisIntent(c.Request.Context(), paymentdomain.CreateIntentRequest{
		TenantID:      tenantID,
		OwnerType:     req.OwnerType,
		OwnerID:       ownerID,
		Amount:        req.Amount,
		ForceNew:      req.ForceNew,
		ExpiryMinutes: req.ExpiryMinutes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"intent": intent})
}

// handleQrisWebhook always answers 200 with the terminal outcome, so
// the gateway stops retrying once a delivery has been decided. Only a
// payload we cannot even record comes back as 400.
func (s *Server) handleQrisWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "unreadable body"}})
		return
	}
	signature := c.GetHeader("X-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Callback-Signature")
	}

	result, err := s.webhookSvc.HandleEvent(c.Request.Context(), paymentdomain.ProviderBriQris, payload, signature)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) reconcileSweep(c *gin.Context) {
	dryRun := c.Query("dry_run") == "true"
	report, err := s.sweeper.Sweep(c.Request.Context(), dryRun)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) expireIntents(c *gin.Context) {
	n, err := s.intentSvc.ExpireStale(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}
