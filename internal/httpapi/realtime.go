package httpapi

import (
	"context"
	"net/http"

	"github.com/igm/sockjs-go/sockjs"

	"qms/internal/realtime"
)

// Close codes sent to SockJS clients.
const (
	closeInvalidMessage = 4000
	closeSubscribeFail  = 4004
)

// realtimeHandler serves display panels and attendant screens. Views are
// public; a client sends {"action":"subscribe","queue_id":..,"view":..}.
func (h *Handler) realtimeHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := h.svc.Realtime.NewClient(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()
		defer func() {
			client.Close()
			<-done
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := realtime.ParseSubscribe([]byte(msg))
			if !ok {
				_ = session.Close(closeInvalidMessage, "invalid message")
				return
			}
			if err := client.Handle(parsed); err != nil {
				status, code, _ := mapError(err)
				h.log.WithError(err).WithField("client_id", client.ID).Debug("realtime subscribe rejected")
				if status == http.StatusInternalServerError {
					code = "subscribe_failed"
				}
				_ = session.Close(closeSubscribeFail, code)
				return
			}
		}
	})
}
