package api

import (
	"net/http"
	"sort"
	"time"
)

type gatewayResponse struct {
	GatewayID string    `json:"gatewayID"`
	PushAddr  string    `json:"pushAddr,omitempty"`
	PullAddr  string    `json:"pullAddr,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
}

// HandleListGateways lists the packet forwarders talking to the UDP listener
func (s *RESTServer) HandleListGateways(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateways == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"gateways": []gatewayResponse{},
			"total":    0,
		})
		return
	}

	infos := s.deps.Gateways.Gateways()
	out := make([]gatewayResponse, 0, len(infos))
	for _, gw := range infos {
		g := gatewayResponse{GatewayID: gw.GatewayID, LastSeen: gw.LastSeen}
		if gw.PushAddr != nil {
			g.PushAddr = gw.PushAddr.String()
		}
		if gw.PullAddr != nil {
			g.PullAddr = gw.PullAddr.String()
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GatewayID < out[j].GatewayID })

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": out,
		"total":    len(out),
	})
}
