package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medride/internal/domain"
	"medride/internal/middleware"
	"medride/internal/service"
)

// TokenIssuer signs bearer tokens for newly registered accounts.
type TokenIssuer interface {
	Generate(actor domain.Actor) (string, time.Time, error)
}

// UserHandler handles HTTP requests for riders and their payment methods.
type UserHandler struct {
	userService *service.UserService
	tokens      TokenIssuer
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userService *service.UserService, tokens TokenIssuer) *UserHandler {
	return &UserHandler{userService: userService, tokens: tokens}
}

// RegisterRequest is the HTTP request body for user registration.
type RegisterRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UserResponse is the HTTP response for user data.
type UserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// RegisterResponse is the HTTP response for a registration. The token
// authenticates the new account.
type RegisterResponse struct {
	Success   bool      `json:"success"`
	User      any       `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AddPaymentMethodRequest is the HTTP request body for saving a card.
type AddPaymentMethodRequest struct {
	GatewayMethodRef string `json:"gateway_method_ref"`
	Brand            string `json:"brand,omitempty"`
	Last4            string `json:"last4,omitempty"`
	MakeDefault      bool   `json:"make_default"`
}

// PaymentMethodResponse is the HTTP response for a saved payment method.
type PaymentMethodResponse struct {
	ID        string    `json:"id"`
	Brand     string    `json:"brand,omitempty"`
	Last4     string    `json:"last4,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:    u.ID,
		Name:  u.Name,
		Phone: u.Phone,
		Email: u.Email,
		Role:  string(u.Role),
	}
}

func toPaymentMethodResponse(m *domain.PaymentMethod) PaymentMethodResponse {
	return PaymentMethodResponse{
		ID:        m.ID,
		Brand:     m.Brand,
		Last4:     m.Last4,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt,
	}
}

// issueToken answers a registration with the account and its bearer token.
func issueToken(c *gin.Context, tokens TokenIssuer, actor domain.Actor, account any) {
	token, expiresAt, err := tokens.Generate(actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, RegisterResponse{
		Success:   true,
		User:      account,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// Register handles POST /v1/users/register
// Registration is open; only an authenticated admin may create another admin.
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	caller, _ := middleware.ActorFrom(c)

	user, err := h.userService.RegisterUser(c.Request.Context(), caller, service.RegisterUserRequest{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
		Role:  domain.UserRole(req.Role),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	issueToken(c, h.tokens, domain.Actor{ID: user.ID, Role: user.Role}, toUserResponse(user))
}

// GetUser handles GET /v1/users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	userID := c.Param("id")
	if !actor.IsAdmin() && actor.ID != userID {
		respondError(c, service.ErrForbidden)
		return
	}

	user, err := h.userService.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toUserResponse(user))
}

// AddPaymentMethod handles POST /v1/users/:id/payment-methods
func (h *UserHandler) AddPaymentMethod(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req AddPaymentMethodRequest
	if !bindJSON(c, &req) {
		return
	}

	method, err := h.userService.AddPaymentMethod(c.Request.Context(), actor, service.AddPaymentMethodRequest{
		UserID:           c.Param("id"),
		GatewayMethodRef: req.GatewayMethodRef,
		Brand:            req.Brand,
		Last4:            req.Last4,
		MakeDefault:      req.MakeDefault,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toPaymentMethodResponse(method))
}

// ListPaymentMethods handles GET /v1/users/:id/payment-methods
func (h *UserHandler) ListPaymentMethods(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	methods, err := h.userService.ListPaymentMethods(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]PaymentMethodResponse, 0, len(methods))
	for _, m := range methods {
		response = append(response, toPaymentMethodResponse(m))
	}
	respondJSON(c, http.StatusOK, response)
}

// SetDefaultPaymentMethod handles POST /v1/users/:id/payment-methods/:methodId/default
func (h *UserHandler) SetDefaultPaymentMethod(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	if err := h.userService.SetDefaultPaymentMethod(c.Request.Context(), actor, c.Param("id"), c.Param("methodId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
