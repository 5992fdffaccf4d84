package booking

import (
	"net/http"

	"runnerhub/middleware"
	"runnerhub/models"
	"runnerhub/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

type bookingResponse struct {
	Booking models.Booking  `json:"booking"`
	Actions []models.Action `json:"actions"`
}

func respondBooking(w http.ResponseWriter, code int, b models.Booking, viewer models.Identity) {
	actions := Actions(b, viewer)
	if actions == nil {
		actions = []models.Action{}
	}
	utils.RespondWithJSON(w, code, bookingResponse{Booking: b, Actions: actions})
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())

	var req CreateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	b, err := h.svc.Create(r.Context(), actor, req)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	respondBooking(w, http.StatusCreated, b, actor)
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())
	bookings, err := h.svc.List(r.Context(), actor, ListRequest{
		AsProvider: utils.QueryBool(r, "as_provider"),
		All:        utils.QueryBool(r, "all"),
		Status:     models.Status(r.URL.Query().Get("status")),
	})
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"bookings": bookings})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())

	b, err := h.svc.Get(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	respondBooking(w, http.StatusOK, b, actor)
}

func (h *Handlers) TransitionBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())

	var body struct {
		Action models.Action `json:"action"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	b, err := h.svc.RequestTransition(r.Context(), ps.ByName("id"), actor, body.Action)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	respondBooking(w, http.StatusOK, b, actor)
}

func (h *Handlers) UpdateBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())

	var req UpdateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	b, err := h.svc.Update(r.Context(), ps.ByName("id"), actor, req)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	respondBooking(w, http.StatusOK, b, actor)
}
