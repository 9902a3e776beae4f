// Package httpserver hosts the bot's HTTP surface: the backend notification
// webhook, an inbound chat-event endpoint for transport adapters, health,
// and Prometheus metrics.
package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paybot/pkg/chat"
	"paybot/pkg/logx"
)

// Dispatcher is the inbound chat-event sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev chat.Event) (chat.Action, error)
}

// Server is the bot's HTTP listener.
type Server struct {
	srv           *http.Server
	logger        *logx.Logger
	maxEventBytes int64
}

// New assembles the route table. notifyHandler serves POST /notify;
// dispatcher receives POST /event. maxUploadBytes bounds the file payload a
// single event may carry; the request body cap accounts for base64 overhead.
func New(addr string, notifyHandler http.Handler, dispatcher Dispatcher, maxUploadBytes int64) *Server {
	s := &Server{
		logger:        logx.NewLogger("httpserver"),
		maxEventBytes: maxUploadBytes/3*4 + 64*1024,
	}

	mux := http.NewServeMux()
	mux.Handle("POST /notify", notifyHandler)
	mux.HandleFunc("POST /event", s.eventHandler(dispatcher))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s
}

// inboundEvent is the wire form of one chat event from a transport adapter.
type inboundEvent struct {
	UserHandle string `json:"userHandle"`
	Kind       string `json:"kind"` // text | selection | file
	Text       string `json:"text,omitempty"`
	Token      string `json:"token,omitempty"`
	File       *struct {
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Data        string `json:"data"` // base64
	} `json:"file,omitempty"`
}

func (s *Server) eventHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxEventBytes)

		var in inboundEvent
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "event too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}
		if in.UserHandle == "" {
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}

		ev, err := in.toEvent()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		act, err := d.Dispatch(r.Context(), ev)
		if err != nil {
			s.logger.Error("dispatch event for %s: %v", in.UserHandle, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(act)
	}
}

func (in inboundEvent) toEvent() (chat.Event, error) {
	ev := chat.Event{UserHandle: in.UserHandle}
	switch chat.EventKind(in.Kind) {
	case chat.EventText:
		ev.Kind = chat.EventText
		ev.Text = in.Text
	case chat.EventSelection:
		ev.Kind = chat.EventSelection
		ev.Token = in.Token
	case chat.EventFile:
		if in.File == nil {
			return chat.Event{}, errors.New("file event without file")
		}
		data, err := base64.StdEncoding.DecodeString(in.File.Data)
		if err != nil {
			return chat.Event{}, fmt.Errorf("decode file data: %w", err)
		}
		ev.Kind = chat.EventFile
		ev.File = &chat.FilePayload{
			Name:        in.File.Name,
			ContentType: in.File.ContentType,
			Data:        data,
		}
	default:
		return chat.Event{}, fmt.Errorf("unknown event kind %q", in.Kind)
	}
	return ev, nil
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info("listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
