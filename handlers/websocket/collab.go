package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"collabpad/collab"
	"collabpad/handlers/auth"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type (
	joinPayload struct {
		DocumentID  string `json:"documentId"`
		DisplayName string `json:"displayName"`
	}

	editPayload struct {
		DocumentID string `json:"documentId"`
		Delta      any    `json:"delta"`
		Content    string `json:"content"`
	}

	cursorPayload struct {
		DocumentID string `json:"documentId"`
		Position   any    `json:"position"`
	}

	savePayload struct {
		DocumentID string `json:"documentId"`
		Content    string `json:"content"`
	}

	leavePayload struct {
		DocumentID string `json:"documentId"`
	}
)

// socketEmitter adapts a socket.io socket to the collab.Emitter interface.
type socketEmitter struct {
	socket *socketio.Socket
}

func (e socketEmitter) Emit(event string, payload any) {
	if err := e.socket.Emit(event, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"socket_id": e.socket.Id(),
			"event":     event,
		}).WithError(err).Warn("Failed to emit event")
	}
}

// SetupSocketIO wires the collaboration session manager to a socket.io
// server. Connections are authenticated from the handshake before any
// document event handler is registered; a connection that fails the check
// is disconnected and never reaches room logic.
func SetupSocketIO(sessions *collab.Manager) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		claims, err := authenticateSocket(socket)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"socket_id": socket.Id(),
			}).WithError(err).Warn("Rejecting unauthenticated connection")
			_ = socket.Emit(collab.EventError, collab.ErrorEvent{Message: "authentication required"})
			socket.Disconnect(true)
			return
		}

		connID := string(socket.Id())
		displayName := claims.Name
		if displayName == "" {
			displayName = claims.Login
		}
		sessions.Register(connID, collab.Identity{
			UserID:      claims.Subject,
			DisplayName: displayName,
		}, socketEmitter{socket: socket})

		socket.On("join-document", func(datas ...any) {
			var req joinPayload
			if err := decodePayload(datas, &req); err != nil || req.DocumentID == "" {
				_ = socket.Emit(collab.EventError, collab.ErrorEvent{Message: "invalid join-document payload"})
				return
			}
			sessions.Join(context.Background(), connID, req.DocumentID, req.DisplayName)
		})

		socket.On("text-change", func(datas ...any) {
			var req editPayload
			if err := decodePayload(datas, &req); err != nil || req.DocumentID == "" {
				return
			}
			sessions.Edit(connID, req.DocumentID, req.Delta, req.Content)
		})

		socket.On("cursor-move", func(datas ...any) {
			var req cursorPayload
			if err := decodePayload(datas, &req); err != nil || req.DocumentID == "" {
				return
			}
			sessions.Cursor(connID, req.DocumentID, req.Position)
		})

		socket.On("save-document", func(datas ...any) {
			var req savePayload
			if err := decodePayload(datas, &req); err != nil || req.DocumentID == "" {
				_ = socket.Emit(collab.EventError, collab.ErrorEvent{Message: "invalid save-document payload"})
				return
			}
			sessions.Save(context.Background(), connID, req.DocumentID, req.Content)
		})

		socket.On("leave-document", func(datas ...any) {
			var req leavePayload
			if err := decodePayload(datas, &req); err != nil || req.DocumentID == "" {
				return
			}
			sessions.Leave(connID, req.DocumentID)
		})

		socket.On("disconnect", func(datas ...any) {
			sessions.Unregister(connID)
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

// authenticateSocket extracts and verifies the bearer token supplied in
// the socket.io handshake auth field.
func authenticateSocket(socket *socketio.Socket) (*auth.AppClaims, error) {
	handshake := socket.Handshake()
	if handshake == nil {
		return nil, fmt.Errorf("missing handshake")
	}

	authData, ok := handshake.Auth.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing auth data")
	}
	token, ok := authData["token"].(string)
	if !ok || token == "" {
		return nil, fmt.Errorf("missing auth token")
	}

	return auth.ParseJWT(token)
}

// decodePayload converts the first socket.io argument (a decoded JSON
// object) into a typed payload.
func decodePayload(datas []any, dst any) error {
	if len(datas) == 0 {
		return fmt.Errorf("missing payload")
	}
	raw, err := json.Marshal(datas[0])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
