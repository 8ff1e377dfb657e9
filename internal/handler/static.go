package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"api-gateway/internal/model"
	"api-gateway/internal/route"
)

// Version is a string type for dependency injection of the build version.
type Version string

// ServiceName identifies the gateway in health payloads.
const ServiceName = "api-gateway"

// StaticHandler serves the informational endpoints and the 404 responder.
// None of its endpoints touch an upstream.
type StaticHandler struct {
	table   *route.Table
	version Version
	now     func() time.Time
}

// NewStaticHandler creates a StaticHandler.
func NewStaticHandler(table *route.Table, v Version) *StaticHandler {
	return &StaticHandler{table: table, version: v, now: time.Now}
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// Health reports liveness. It never proxies, so it stays 200 while backends are down.
func (h *StaticHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   ServiceName,
		Timestamp: h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// InfoResponse is the / payload.
type InfoResponse struct {
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	Endpoints     map[string]string `json:"endpoints"`
	Documentation string            `json:"documentation"`
}

// Info returns service metadata and the proxied route groups.
func (h *StaticHandler) Info(c echo.Context) error {
	endpoints := make(map[string]string)
	for _, r := range h.table.Routes() {
		endpoints[groupName(r.Prefix)] = r.Prefix + "/*"
	}
	return c.JSON(http.StatusOK, InfoResponse{
		Service:       "Ticket Booking API Gateway",
		Version:       string(h.version),
		Endpoints:     endpoints,
		Documentation: "/api/docs",
	})
}

// Endpoint documents one method+path pair.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// apiDocs lists the documented endpoints of each backend.
var apiDocs = map[string]map[string]Endpoint{
	"userService": {
		"register":      {http.MethodPost, "/api/users/register"},
		"login":         {http.MethodPost, "/api/users/login"},
		"profile":       {http.MethodGet, "/api/users/profile"},
		"updateProfile": {http.MethodPut, "/api/users/profile"},
	},
	"ticketService": {
		"getAllTickets": {http.MethodGet, "/api/tickets"},
		"getTicket":     {http.MethodGet, "/api/tickets/:id"},
		"createTicket":  {http.MethodPost, "/api/tickets"},
		"updateTicket":  {http.MethodPut, "/api/tickets/:id"},
		"deleteTicket":  {http.MethodDelete, "/api/tickets/:id"},
	},
	"bookingService": {
		"createBooking": {http.MethodPost, "/api/bookings"},
		"getBookings":   {http.MethodGet, "/api/bookings"},
		"getBooking":    {http.MethodGet, "/api/bookings/:id"},
		"cancelBooking": {http.MethodDelete, "/api/bookings/:id"},
		"getStats":      {http.MethodGet, "/api/bookings/stats/summary"},
	},
}

// Docs returns the static API documentation.
func (h *StaticHandler) Docs(c echo.Context) error {
	return c.JSON(http.StatusOK, apiDocs)
}

// NotFoundResponse is the 404 payload.
type NotFoundResponse struct {
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	AvailableRoutes []string `json:"availableRoutes"`
	Kind            string   `json:"kind"`
}

// NotFound answers requests that match neither a static endpoint nor a proxy prefix.
func (h *StaticHandler) NotFound(c echo.Context) error {
	req := c.Request()
	return c.JSON(http.StatusNotFound, NotFoundResponse{
		Error:           "Not Found",
		Message:         fmt.Sprintf("Route %s %s not found", req.Method, req.URL.EscapedPath()),
		AvailableRoutes: h.table.Prefixes(),
		Kind:            string(model.KindNotFound),
	})
}

// groupName turns "/api/users" into "users".
func groupName(prefix string) string {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] == '/' {
			return prefix[i+1:]
		}
	}
	return prefix
}
