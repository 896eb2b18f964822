package api

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/analyzer"
	"github.com/lorawan-server/lorawan-tester/internal/forger"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

// HandleAnalyzerState reports the analyzer state machine
func (s *RESTServer) HandleAnalyzerState(w http.ResponseWriter, r *http.Request) {
	current, _ := s.deps.Sessions.Current(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session": current,
		"state":   s.deps.Analyzer.State(),
	})
}

// HandleRecentFrames lists the latest analysed frames, newest last
func (s *RESTServer) HandleRecentFrames(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	frames := s.deps.Analyzer.Recent(limit)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"frames": frames,
		"total":  len(frames),
	})
}

// HandleDecodeFrame decodes a frame without touching any session
func (s *RESTServer) HandleDecodeFrame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frame   string `json:"frame" validate:"required"`
		RootKey string `json:"rootKey" validate:"hex=16"`
		NwkSKey string `json:"nwkSKey" validate:"hex=16"`
		AppSKey string `json:"appSKey" validate:"hex=16"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	data, err := hex.DecodeString(req.Frame)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "frame: invalid hex")
		return
	}

	var keys analyzer.Keys
	keys.Root = optionalKey(req.RootKey)
	keys.NwkSKey = optionalKey(req.NwkSKey)
	keys.AppSKey = optionalKey(req.AppSKey)

	rec, err := analyzer.Describe(data, keys)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// optionalKey parses a validated key, empty meaning none
func optionalKey(s string) *lorawan.AES128Key {
	if s == "" {
		return nil
	}
	k, err := lorawan.ParseAES128Key(s)
	if err != nil {
		return nil
	}
	return &k
}

// HandleDeriveKeys derives the five session keys from explicit inputs
func (s *RESTServer) HandleDeriveKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppKey   string `json:"appKey" validate:"required,hex=16"`
		NwkKey   string `json:"nwkKey" validate:"hex=16"`
		JoinEUI  string `json:"joinEUI" validate:"hex=8"`
		AppNonce string `json:"appNonce" validate:"required,hex=3"`
		NetID    string `json:"netID" validate:"required,hex=3"`
		DevNonce string `json:"devNonce" validate:"required,hex=2"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	appKey, _ := lorawan.ParseAES128Key(req.AppKey)
	nwkKey := appKey
	if k := optionalKey(req.NwkKey); k != nil {
		nwkKey = *k
	}
	var joinEUI lorawan.EUI64
	if req.JoinEUI != "" {
		joinEUI, _ = lorawan.ParseEUI64(req.JoinEUI)
	}
	appNonce, _ := lorawan.ParseJoinNonce(req.AppNonce)
	netID, _ := lorawan.ParseNetID(req.NetID)
	devNonce, _ := lorawan.ParseDevNonce(req.DevNonce)

	ks, err := lorawan.DeriveSessionKeys(appKey, nwkKey, joinEUI, appNonce, netID, devNonce)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"AppSKey":     ks.AppSKey.String(),
		"NwkSKey":     ks.NwkSKey.String(),
		"FNwkSIntKey": ks.FNwkSIntKey.String(),
		"SNwkSIntKey": ks.SNwkSIntKey.String(),
		"NwkSEncKey":  ks.NwkSEncKey.String(),
	})
}

// HandleForge builds a frame from the current session and optionally
// hands it to the configured sink
func (s *RESTServer) HandleForge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FCnt           *uint32 `json:"fCnt" validate:"max=65535"`
		Confirmed      bool    `json:"confirmed"`
		RxDelay        *uint8  `json:"rxDelay" validate:"max=15"`
		CFList         string  `json:"cfList" validate:"hex=16"`
		JamPayload     string  `json:"jamPayload"`
		RandomDevNonce bool    `json:"randomDevNonce"`
		Send           bool    `json:"send"`
	}
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	opts := forger.Options{
		FCnt:           req.FCnt,
		Confirmed:      req.Confirmed,
		RxDelay:        req.RxDelay,
		RandomDevNonce: req.RandomDevNonce,
	}
	if req.CFList != "" {
		opts.CFList, _ = hex.DecodeString(req.CFList)
	}
	if req.JamPayload != "" {
		b, err := hex.DecodeString(req.JamPayload)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "jamPayload: invalid hex")
			return
		}
		opts.JamPayload = b
	}

	kind := forger.Kind(chi.URLParam(r, "kind"))
	res, err := s.deps.Forger.Forge(r.Context(), kind, opts)
	if err != nil {
		if !isKnownKind(kind) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondErr(w, err)
		return
	}

	resp := map[string]interface{}{"result": res, "sent": false}
	if req.Send {
		if s.deps.Sink == nil {
			s.respondError(w, http.StatusServiceUnavailable, "no transmitter configured")
			return
		}
		if err := s.deps.Sink.Send(r.Context(), res.Frame); err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("Send forged frame failed")
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		resp["sent"] = true
		resp["sink"] = s.deps.Sink.Name()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func isKnownKind(k forger.Kind) bool {
	for _, known := range forger.Kinds() {
		if k == known {
			return true
		}
	}
	return false
}
