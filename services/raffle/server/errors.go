package server

import (
	stderrors "errors"
	"net/http"

	"github.com/R3E-Network/neoraffle/internal/errors"
	"github.com/R3E-Network/neoraffle/internal/ledger"
	"github.com/R3E-Network/neoraffle/services/raffle"
	"github.com/R3E-Network/neoraffle/services/vrf"
)

// toServiceError maps engine, ledger and coordinator errors onto the wire
// taxonomy. Unknown errors become internal errors.
func toServiceError(err error) *errors.ServiceError {
	if se := errors.GetServiceError(err); se != nil {
		return se
	}

	var notNeeded *raffle.UpkeepNotNeededError
	if stderrors.As(err, &notNeeded) {
		return errors.Wrap(errors.CodeUpkeepNotNeeded, "Upkeep not needed", http.StatusConflict, err).
			WithDetails("balance", ledger.FormatAmount(notNeeded.Balance)).
			WithDetails("players", notNeeded.Players).
			WithDetails("state", notNeeded.State.String())
	}

	var payout *raffle.PayoutError
	if stderrors.As(err, &payout) {
		return errors.Wrap(errors.CodePayoutFailed, "Payout to winner failed", http.StatusBadGateway, err).
			WithDetails("winner", payout.Winner).
			WithDetails("amount", ledger.FormatAmount(payout.Amount))
	}

	switch {
	case stderrors.Is(err, raffle.ErrInsufficientFee):
		return errors.Wrap(errors.CodeInsufficientFee, "Entrance fee not met", http.StatusPaymentRequired, err)
	case stderrors.Is(err, raffle.ErrRaffleNotOpen):
		return errors.Wrap(errors.CodeRaffleNotOpen, "Raffle is not open", http.StatusConflict, err)
	case stderrors.Is(err, raffle.ErrIndexOutOfRange):
		return errors.Wrap(errors.CodeIndexOutOfRange, "Player index out of range", http.StatusNotFound, err)
	case stderrors.Is(err, raffle.ErrNonexistentRequest), stderrors.Is(err, vrf.ErrNonexistentRequest):
		return errors.Wrap(errors.CodeNonexistentRequest, "Nonexistent request", http.StatusNotFound, err)
	case stderrors.Is(err, raffle.ErrInvalidParticipant):
		return errors.InvalidFormat("player", "non-empty participant identity")
	case stderrors.Is(err, raffle.ErrInvalidRandomWords), stderrors.Is(err, vrf.ErrInvalidRandomWords):
		return errors.InvalidFormat("words", "one decimal integer per requested word")
	case stderrors.Is(err, raffle.ErrRecoveryDisabled), stderrors.Is(err, raffle.ErrDrawNotStale):
		return errors.Wrap(errors.CodeConflict, err.Error(), http.StatusConflict, err)
	case stderrors.Is(err, ledger.ErrInsufficientBalance):
		return errors.Wrap(errors.CodeInsufficientFunds, "Insufficient balance", http.StatusPaymentRequired, err)
	case stderrors.Is(err, ledger.ErrInvalidAmount):
		return errors.InvalidFormat("amount", "positive decimal with at most 8 fractional digits")
	case stderrors.Is(err, ledger.ErrInvalidAccount), stderrors.Is(err, ledger.ErrRejected):
		return errors.Wrap(errors.CodeConflict, "Ledger rejected the transfer", http.StatusUnprocessableEntity, err)
	case stderrors.Is(err, vrf.ErrUnknownConsumer):
		return errors.Wrap(errors.CodeUnavailable, "Randomness consumer not registered", http.StatusServiceUnavailable, err)
	}
	return errors.Internal("Internal server error", err)
}
