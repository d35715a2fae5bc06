package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hferrand/chatstream/internal/chat"
	"github.com/hferrand/chatstream/internal/store/rabbitmq"
)

type Handler struct {
	Svc  *chat.Service
	Jobs *rabbitmq.Publisher // nil disables the async path

	upgrader websocket.Upgrader
}

func NewHandler(svc *chat.Service, jobs *rabbitmq.Publisher) *Handler {
	return &Handler{
		Svc:  svc,
		Jobs: jobs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
