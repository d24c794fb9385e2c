package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	leasedomain "github.com/kiloan-app/kiloan/internal/lease/domain"
)

type claimLeasesRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	OutletID string `json:"outlet_id" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
	Claims   []struct {
		Date  string `json:"date" binding:"required"`
		Count int    `json:"count"`
	} `json:"claims" binding:"required"`
}

type leaseResponse struct {
	ID          string    `json:"id"`
	LeaseDate   string    `json:"lease_date"`
	Prefix      string    `json:"prefix"`
	FromCounter int       `json:"from_counter"`
	ToCounter   int       `json:"to_counter"`
	NextCounter int       `json:"next_counter"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) claimLeases(c *gin.Context) {
	var req claimLeasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": err.Error()}})
		return
	}
	tenantID, outletID, deviceID, ok := parseScopeIDs(c, req.TenantID, req.OutletID, req.DeviceID)
	if !ok {
		return
	}

	requests := make([]leasedomain.ClaimRequest, 0, len(req.Claims))
	for _, claim := range req.Claims {
		date, err := time.Parse("2006-01-02", claim.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid claim date"}})
			return
		}
		requests = append(requests, leasedomain.ClaimRequest{Date: date, Count: claim.Count})
	}

	leases, err := s.allocator.ClaimRanges(c.Request.Context(), tenantID, outletID, deviceID, requests)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"leases": leaseResponses(leases)})
}

func (s *Server) listActiveLeases(c *gin.Context) {
	tenantID, outletID, deviceID, ok := parseScopeIDs(c,
		c.Query("tenant_id"), c.Query("outlet_id"), c.Query("device_id"))
	if !ok {
		return
	}
	date, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid date"}})
		return
	}

	leases, err := s.allocator.ActiveLeases(c.Request.Context(), tenantID, outletID, deviceID, date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leases": leaseResponses(leases)})
}

func leaseResponses(leases []leasedomain.InvoiceLease) []leaseResponse {
	out := make([]leaseResponse, 0, len(leases))
	for i := range leases {
		out = append(out, leaseResponse{
			ID:          leases[i].ID.String(),
			LeaseDate:   leases[i].LeaseDate,
			Prefix:      leases[i].Prefix,
			FromCounter: leases[i].FromCounter,
			ToCounter:   leases[i].ToCounter,
			NextCounter: leases[i].NextCounter,
			ExpiresAt:   leases[i].ExpiresAt,
		})
	}
	return out
}

func parseScopeIDs(c *gin.Context, tenant, outlet, device string) (snowflake.ID, snowflake.ID, snowflake.ID, bool) {
	tenantID, err := snowflake.ParseString(tenant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid tenant_id"}})
		return 0, 0, 0, false
	}
	outletID, err := snowflake.ParseString(outlet)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid outlet_id"}})
		return 0, 0, 0, false
	}
	deviceID, err := snowflake.ParseString(device)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"type": "invalid_request", "message": "invalid device_id"}})
		return 0, 0, 0, false
	}
	return tenantID, outletID, deviceID, true
}
