package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
	"medride/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	driverService *service.DriverService
	tokens        TokenIssuer
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService, tokens TokenIssuer) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
		tokens:        tokens,
	}
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	Name               string `json:"name"`
	Phone              string `json:"phone"`
	VehicleType        string `json:"vehicle_type"`
	ConnectedAccountID string `json:"connected_account_id,omitempty"`
}

// ConnectedAccountRequest is the HTTP request body for linking a payout account.
type ConnectedAccountRequest struct {
	AccountID string `json:"account_id"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Phone               string `json:"phone"`
	Status              string `json:"status"`
	VehicleType         string `json:"vehicle_type"`
	HasConnectedAccount bool   `json:"has_connected_account"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:                  d.ID,
		Name:                d.Name,
		Phone:               d.Phone,
		Status:              string(d.Status),
		VehicleType:         string(d.VehicleType),
		HasConnectedAccount: d.ConnectedAccountID != "",
	}
}

// Register handles POST /v1/drivers/register
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if !bindJSON(c, &req) {
		return
	}

	driver, err := h.driverService.RegisterDriver(c.Request.Context(), service.RegisterDriverRequest{
		Name:               req.Name,
		Phone:              req.Phone,
		VehicleType:        domain.VehicleType(req.VehicleType),
		ConnectedAccountID: req.ConnectedAccountID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	issueToken(c, h.tokens, domain.Actor{ID: driver.ID, Role: domain.RoleDriver}, toDriverResponse(driver))
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	driver, err := h.driverService.GetDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req UpdateLocationRequest
	if !bindJSON(c, &req) {
		return
	}

	err := h.driverService.UpdateLocation(c.Request.Context(), actor, service.UpdateLocationRequest{
		DriverID: c.Param("id"),
		Lat:      req.Lat,
		Lng:      req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GoOffline handles POST /v1/drivers/:id/offline
func (h *DriverHandler) GoOffline(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := h.driverService.SetDriverOffline(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetConnectedAccount handles PUT /v1/drivers/:id/connected-account
func (h *DriverHandler) SetConnectedAccount(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req ConnectedAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.driverService.SetConnectedAccount(c.Request.Context(), actor, c.Param("id"), req.AccountID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
