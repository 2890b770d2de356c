package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rtxnet/rtxd/src/node"
)

// Service exposes the node's state over HTTP: /stats and /peers as JSON, and
// prometheus collectors on /metrics.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService creates the service and registers its handlers.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering rtxd API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.Handle("/metrics", promhttp.Handler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when another server has already been started with the
// DefaultServerMux and the same address:port combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.WithError(err).Error("Service")
	}
}

// GetStats returns the node's coarse state.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

type peerInfo struct {
	ID        uint32 `json:"id"`
	PublicKey string `json:"public_key"`
	Remote    string `json:"remote"`
	Moniker   string `json:"moniker"`
}

// GetPeers returns the live peer sessions.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	peers := s.node.Overlay().Peers()

	infos := make([]peerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, peerInfo{
			ID:        p.ID(),
			PublicKey: p.PublicKey(),
			Remote:    p.Remote(),
			Moniker:   p.Hello().Moniker,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}
