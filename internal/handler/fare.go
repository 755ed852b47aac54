package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
	"medride/internal/service"
)

// FareHandler handles fare estimates and pricing settings.
type FareHandler struct {
	fares    *service.FareCalculator
	settings *service.SettingsService
}

// NewFareHandler creates a new FareHandler.
func NewFareHandler(fares *service.FareCalculator, settings *service.SettingsService) *FareHandler {
	return &FareHandler{fares: fares, settings: settings}
}

// FareEstimateRequest is the HTTP request body for a fare estimate. When
// ScheduledTime is set it decides time of day and day type unless those are
// given explicitly.
type FareEstimateRequest struct {
	service.FareParams
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
	IsHoliday     bool       `json:"is_holiday"`
}

// PlatformFeeRequest is the HTTP request body for changing the platform fee.
type PlatformFeeRequest struct {
	Percent float64 `json:"percent"`
}

// Estimate handles POST /v1/fares/estimate
func (h *FareHandler) Estimate(c *gin.Context) {
	var req FareEstimateRequest
	if !bindJSON(c, &req) {
		return
	}

	params := req.FareParams
	if params.VehicleType == "" {
		params.VehicleType = domain.VehicleStandard
	}
	if req.ScheduledTime != nil {
		tod, day := service.ClassifyPickup(*req.ScheduledTime)
		if params.TimeOfDay == "" {
			params.TimeOfDay = tod
		}
		if params.DayType == "" {
			params.DayType = day
		}
	}
	if req.IsHoliday {
		params.DayType = service.DayHoliday
	}

	fare, err := h.fares.Calculate(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, fare)
}

// GetPlatformFee handles GET /v1/admin/settings/platform-fee
func (h *FareHandler) GetPlatformFee(c *gin.Context) {
	pct, err := h.settings.PlatformFeePercent(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, PlatformFeeRequest{Percent: pct})
}

// SetPlatformFee handles PUT /v1/admin/settings/platform-fee
func (h *FareHandler) SetPlatformFee(c *gin.Context) {
	var req PlatformFeeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.settings.SetPlatformFeePercent(c.Request.Context(), req.Percent); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, PlatformFeeRequest{Percent: req.Percent})
}
