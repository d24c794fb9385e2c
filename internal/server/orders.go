package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/kiloan-app/kiloan/internal/order/domain"
)

type createOrderRequest struct {
	TenantID        string `json:"tenant_id" binding:"required"`
	OutletID        string `json:"outlet_id" binding:"required"`
	DeviceID        string `json:"device_id" binding:"required"`
	TotalAmount     int64  `json:"total_amount" binding:"required"`
	OrderedAt       string `json:"ordered_at"`
	ClientInvoiceNo string `json:"client_invoice_no"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": err.Error()}})
		return
	}
	tenantID, outletID, deviceID, ok := parseScopeIDs(c, req.TenantID, req.OutletID, req.DeviceID)
	if !ok {
		return
	}

	var orderedAt time.Time
	if req.OrderedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OrderedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid ordered_at"}})
			return
		}
		orderedAt = parsed
	}

	order, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		TenantID:        tenantID,
		OutletID:        outletID,
		DeviceID:        deviceID,
		TotalAmount:     req.TotalAmount,
		OrderedAt:       orderedAt,
		ClientInvoiceNo: req.ClientInvoiceNo,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (s *Server) quotaSnapshot(c *gin.Context) {
	tenantID, err := snowflake.ParseString(c.Query("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid tenant_id"}})
		return
	}

	view, err := s.quotaSvc.Snapshot(c.Request.Context(), tenantID, c.Query("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": view})
}
