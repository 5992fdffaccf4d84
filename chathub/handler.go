package chathub

import (
	"net/http"
	"net/url"
	"strings"

	"runnerhub/utils"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// ServeWS authenticates the handshake before upgrading. The credential is
// read from the Authorization header, or from ?token= for browsers that
// cannot set headers on a websocket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	credential := r.Header.Get("Authorization")
	if credential == "" {
		credential = r.URL.Query().Get("token")
	}
	identity, err := h.registry.Authenticate(credential)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade", zap.Error(err))
		return
	}

	s := h.registry.Register(identity, uuid.NewString())
	c, err := h.attach(s, conn)
	if err != nil {
		conn.Close()
		return
	}
	h.log.Debug("client connected",
		zap.String("conn", s.ID),
		zap.String("identity", identity.ID),
		zap.String("role", string(identity.Role)))

	c.queue(connectedEvent{Event: EventConnected, Identity: identity})
	go c.writePump()
	go c.readPump()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host) {
				return true
			}
		}
		return false
	}
}
