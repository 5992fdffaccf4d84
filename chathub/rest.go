package chathub

import (
	"net/http"

	"runnerhub/middleware"
	"runnerhub/models"
	"runnerhub/utils"

	"github.com/julienschmidt/httprouter"
)

// GetMessages returns history after ?since= for clients without a socket
// or recovering from a dropped one.
func (h *Hub) GetMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())
	bookingID := ps.ByName("id")

	since, err := utils.QueryCursor(r, "since")
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}

	if _, err := h.store.Authorize(r.Context(), bookingID, actor); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	msgs, err := h.store.History(r.Context(), bookingID, since)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"booking_id": bookingID,
		"messages":   models.ViewsFor(msgs, actor.ID),
	})
}

// PostMessage is the request-response fallback for sending. The message is
// delivered to live subscribers exactly as a socket send would be.
func (h *Hub) PostMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())

	var req struct {
		Body string `json:"body"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	ctx := r.Context()
	m, err := h.store.Append(ctx, ps.ByName("id"), actor, req.Body, models.KindText, func(m models.Message) {
		h.fanout(ctx, m, nil, "")
	})
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, m.ViewFor(actor.ID))
}

func (h *Hub) MarkRead(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())

	var req struct {
		Sequence int64 `json:"sequence"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, err)
		return
	}

	cursor, err := h.store.MarkRead(r.Context(), ps.ByName("id"), actor, req.Sequence)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	h.announceRead(cursor, nil)
	utils.RespondWithJSON(w, http.StatusOK, cursor)
}

func (h *Hub) Unread(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, _ := middleware.IdentityFrom(r.Context())

	n, cursor, err := h.store.Unread(r.Context(), ps.ByName("id"), actor)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"booking_id": cursor.BookingID,
		"unread":     n,
		"cursor":     cursor.Sequence,
	})
}
