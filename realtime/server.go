package realtime

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Server upgrades incoming HTTP requests to websocket connections and
// dispatches them into one of the three namespaces by request path.
type Server struct {
	hub      *Hub
	auth     *Authenticator
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, auth *Authenticator) *Server {
	return &Server{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeNamespace returns an http.HandlerFunc that upgrades the
// connection and authenticates it against ns's role requirement.
// Wire one of these at each of /ws/passenger, /ws/driver, /ws/admin.
func (s *Server) ServeNamespace(ns Namespace) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				token = h[7:]
			}
		}

		claims, err := s.auth.Authenticate(ns, token)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		conn := newConn(ws, ns, s.hub.Log)
		s.hub.addConn(conn)

		switch ns {
		case NamespacePassenger:
			s.hub.HandlePassengerConnect(conn, claims)
		case NamespaceDriver:
			if claims == nil {
				conn.close()
				s.hub.removeConn(conn)
				return
			}
			s.hub.HandleDriverConnect(conn, claims)
		case NamespaceAdmin:
			s.hub.HandleAdminConnect(conn, claims)
		}

		conn.readLoop()

		if ns == NamespaceDriver {
			s.hub.HandleDriverDisconnect(conn)
		}
		conn.close()
		s.hub.removeConn(conn)
	}
}
