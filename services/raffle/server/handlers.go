package server

import (
	"encoding/base64"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/neoraffle/internal/errors"
	"github.com/R3E-Network/neoraffle/internal/events"
	"github.com/R3E-Network/neoraffle/internal/httputil"
	"github.com/R3E-Network/neoraffle/internal/ledger"
	"github.com/R3E-Network/neoraffle/services/raffle"
)

// maxEvents caps the limit accepted by GET /events.
const maxEvents = 500

// EnterRequest is the body of POST /enter. Amount is a decimal string.
type EnterRequest struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
}

// EnterResponse acknowledges an accepted entry.
type EnterResponse struct {
	Player  string `json:"player"`
	Amount  string `json:"amount"`
	Players int    `json:"players"`
}

// UpkeepResponse is the body of GET /upkeep.
type UpkeepResponse struct {
	raffle.UpkeepCheck
	BalanceDisplay string `json:"balance_display"`
	ElapsedDisplay string `json:"elapsed"`
}

// PerformResponse reports the randomness request of a started draw.
type PerformResponse struct {
	RequestID uint64 `json:"request_id"`
}

// PerformRequest is the optional body of POST /upkeep/perform.
type PerformRequest struct {
	PerformData string `json:"perform_data,omitempty"`
}

// RaffleResponse is the body of GET /raffle.
type RaffleResponse struct {
	Account        string                  `json:"account"`
	State          raffle.State            `json:"state"`
	EntranceFee    string                  `json:"entrance_fee"`
	Interval       string                  `json:"interval"`
	RequestTimeout string                  `json:"request_timeout"`
	Players        int                     `json:"players"`
	RecentWinner   string                  `json:"recent_winner,omitempty"`
	LastTimestamp  time.Time               `json:"last_timestamp"`
	PendingRequest uint64                  `json:"pending_request,omitempty"`
	RequestedAt    *time.Time              `json:"requested_at,omitempty"`
	Randomness     raffle.RandomnessParams `json:"randomness"`
}

// PlayersResponse is the body of GET /players.
type PlayersResponse struct {
	Count   int      `json:"count"`
	Players []string `json:"players"`
}

// PlayerResponse is the body of GET /players/{index}.
type PlayerResponse struct {
	Index  int    `json:"index"`
	Player string `json:"player"`
}

// FulfillRequest is the optional body of POST /vrf/fulfill/{id}. Words are
// decimal strings; when empty the coordinator generates them.
type FulfillRequest struct {
	Words []string `json:"words,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"state":   s.engine.State(),
		"players": s.engine.NumberOfPlayers(),
	})
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req EnterRequest
	if err := httputil.ReadJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	player := strings.TrimSpace(req.Player)
	if s.validateAddresses && player != "" {
		if _, err := address.StringToUint160(player); err != nil {
			s.writeError(w, r, errors.InvalidFormat("player", "Neo N3 address"))
			return
		}
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.Enter(r.Context(), player, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EnterResponse{
		Player:  player,
		Amount:  ledger.FormatAmount(amount),
		Players: s.engine.NumberOfPlayers(),
	})
}

func (s *Server) handleCheckUpkeep(w http.ResponseWriter, r *http.Request) {
	check := s.engine.CheckUpkeep(r.Context(), nil)
	httputil.WriteJSON(w, http.StatusOK, UpkeepResponse{
		UpkeepCheck:    check,
		BalanceDisplay: ledger.FormatAmount(check.Balance),
		ElapsedDisplay: check.Elapsed.String(),
	})
}

func (s *Server) handlePerformUpkeep(w http.ResponseWriter, r *http.Request) {
	var performData []byte
	if r.ContentLength > 0 {
		var req PerformRequest
		if err := httputil.ReadJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.PerformData != "" {
			data, err := base64.StdEncoding.DecodeString(req.PerformData)
			if err != nil {
				s.writeError(w, r, errors.InvalidFormat("perform_data", "base64"))
				return
			}
			performData = data
		}
	}

	requestID, err := s.engine.PerformUpkeep(r.Context(), performData)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, PerformResponse{RequestID: requestID})
}

func (s *Server) handleRaffle(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	resp := RaffleResponse{
		Account:        snap.Account,
		State:          snap.State,
		EntranceFee:    ledger.FormatAmount(s.engine.EntranceFee()),
		Interval:       s.engine.Interval().String(),
		RequestTimeout: s.engine.RequestTimeout().String(),
		Players:        len(snap.Players),
		RecentWinner:   snap.RecentWinner,
		LastTimestamp:  snap.LastTimestamp,
		PendingRequest: snap.PendingRequest,
		Randomness:     s.engine.RandomnessParams(),
	}
	if !snap.RequestedAt.IsZero() {
		requestedAt := snap.RequestedAt
		resp.RequestedAt = &requestedAt
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	players := s.engine.Players()
	if players == nil {
		players = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, PlayersResponse{Count: len(players), Players: players})
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, r, errors.InvalidFormat("index", "integer"))
		return
	}
	player, err := s.engine.Player(index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PlayerResponse{Index: index, Player: player})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, errors.InvalidFormat("limit", "positive integer"))
			return
		}
		limit = n
	}
	if limit > maxEvents {
		limit = maxEvents
	}

	var out []events.Notification
	if t := r.URL.Query().Get("type"); t != "" {
		out = s.events.RecentByType(events.Type(t), limit)
	} else {
		out = s.events.Recent(limit)
	}
	if out == nil {
		out = []events.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"count": len(out), "events": out})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	requestID, err := s.engine.RecoverStaleDraw(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.LogSecurityEvent(r.Context(), "stale_draw_recovered", map[string]interface{}{
		"request_id": requestID,
	})
	httputil.WriteJSON(w, http.StatusAccepted, PerformResponse{RequestID: requestID})
}

func (s *Server) handleVRFStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.coordinator.Stats())
}

func (s *Server) handleVRFPublicKey(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"public_key": base64.StdEncoding.EncodeToString(s.coordinator.PublicKey()),
	})
}

func (s *Server) handleVRFRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestID(w, r)
	if !ok {
		return
	}
	req, err := s.coordinator.Request(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestID(w, r)
	if !ok {
		return
	}

	var body FulfillRequest
	if r.ContentLength > 0 {
		if err := httputil.ReadJSON(w, r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	var words []*big.Int
	for _, raw := range body.Words {
		word, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok || word.Sign() < 0 {
			s.writeError(w, r, errors.InvalidFormat("words", "non-negative decimal integers"))
			return
		}
		words = append(words, word)
	}

	s.log.LogSecurityEvent(r.Context(), "manual_fulfilment", map[string]interface{}{
		"request_id": id,
		"override":   len(words) > 0,
	})

	var err error
	if len(words) > 0 {
		_, err = s.coordinator.FulfillRandomWordsWithOverride(r.Context(), id, words)
	} else {
		_, err = s.coordinator.FulfillRandomWords(r.Context(), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req, err := s.coordinator.Request(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (s *Server) requestID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, errors.InvalidFormat("id", "unsigned integer"))
		return 0, false
	}
	return id, true
}
