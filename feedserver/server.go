package feedserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

type ServerConfig struct {
	Address     string
	PairParam   string
	DefaultPair string
}

// Server accepts viewers on a websocket endpoint. The pair is taken from the
// pair query parameter.
type Server struct {
	hub      *Hub
	conf     ServerConfig
	upgrader websocket.Upgrader
	log      *logger.Entry
}

func NewServer(hub *Hub, conf ServerConfig) *Server {
	if conf.PairParam == "" {
		conf.PairParam = "pair"
	}
	return &Server{
		hub:  hub,
		conf: conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.GetLogger().WithComponent("feed-server"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", s.ServeWS)
	return mux
}

// ServeWS validates the requested pair, upgrades the request and registers a
// client.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get(s.conf.PairParam)
	if strings.TrimSpace(raw) == "" {
		raw = s.conf.DefaultPair
	}
	pair, err := domain.NewPair(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("upgrade failed")
		return
	}

	client := newClient(s.hub, conn, pair)
	if !s.hub.Register(client) {
		_ = conn.Close()
		return
	}
	s.log.WithFields(logger.Fields{"pair": pair.String(), "remote": r.RemoteAddr}).Info("client connected")

	go client.writePump()
	go client.readPump()
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.conf.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(logger.Fields{"address": s.conf.Address}).Info("feed server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
