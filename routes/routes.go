package routes

import (
	"runnerhub/booking"
	"runnerhub/chathub"
	"runnerhub/middleware"
	"runnerhub/ratelim"

	"github.com/julienschmidt/httprouter"
)

func AddBookingRoutes(router *httprouter.Router, auth *middleware.JWTAuthenticator, h *booking.Handlers) {
	router.POST("/api/bookings", auth.Require(h.CreateBooking))
	router.GET("/api/bookings", auth.Require(h.ListBookings))
	router.GET("/api/bookings/:id", auth.Require(h.GetBooking))
	router.PATCH("/api/bookings/:id", auth.Require(h.UpdateBooking))
	router.POST("/api/bookings/:id/transitions", auth.Require(h.TransitionBooking))
}

func AddChatRoutes(router *httprouter.Router, auth *middleware.JWTAuthenticator, rateLimiter *ratelim.RateLimiter, hub *chathub.Hub) {
	router.GET("/api/bookings/:id/messages", auth.Require(hub.GetMessages))
	router.POST("/api/bookings/:id/messages", auth.Require(rateLimiter.Limit(hub.PostMessage)))
	router.POST("/api/bookings/:id/messages/read", auth.Require(hub.MarkRead))
	router.GET("/api/bookings/:id/messages/unread", auth.Require(hub.Unread))
}

// AddWebsockRoutes registers the live connection endpoint. It authenticates
// the handshake itself, so it is not wrapped in Require.
func AddWebsockRoutes(router *httprouter.Router, hub *chathub.Hub) {
	router.GET("/ws", hub.ServeWS)
}
