package raffle

import (
	"context"

	"github.com/R3E-Network/neoraffle/services/automation"
	"github.com/R3E-Network/neoraffle/services/vrf"
)

// RandomnessProvider issues randomness requests. The fulfilment arrives later
// through Engine.FulfillRandomWords and must not be delivered before
// RequestRandomness has returned.
type RandomnessProvider interface {
	RequestRandomness(ctx context.Context, params RandomnessParams) (requestID uint64, err error)
}

// VRFProvider requests randomness from a vrf.Coordinator on behalf of a
// registered consumer.
type VRFProvider struct {
	coordinator *vrf.Coordinator
	consumer    string
}

// NewVRFProvider returns a provider requesting as consumer. Bind must be
// called once the engine exists so fulfilments reach it.
func NewVRFProvider(coordinator *vrf.Coordinator, consumer string) *VRFProvider {
	return &VRFProvider{coordinator: coordinator, consumer: consumer}
}

// Bind registers e as the consumer receiving fulfilments.
func (p *VRFProvider) Bind(e *Engine) error {
	return p.coordinator.RegisterConsumer(p.consumer, e)
}

func (p *VRFProvider) RequestRandomness(ctx context.Context, params RandomnessParams) (uint64, error) {
	return p.coordinator.RequestRandomWords(ctx, vrf.RandomWordsRequest{
		Consumer:             p.consumer,
		KeyHash:              params.KeyHash,
		SubscriptionID:       params.SubscriptionID,
		RequestConfirmations: params.RequestConfirmations,
		CallbackGasLimit:     params.CallbackGasLimit,
		NumWords:             params.NumWords,
	})
}

// upkeep adapts an Engine to automation.Upkeep.
type upkeep struct {
	engine *Engine
}

// Upkeep returns e as an automation.Upkeep for a keeper to drive.
func Upkeep(e *Engine) automation.Upkeep {
	return upkeep{engine: e}
}

func (u upkeep) CheckUpkeep(ctx context.Context, checkData []byte) (bool, []byte, error) {
	check := u.engine.CheckUpkeep(ctx, checkData)
	return check.Needed, check.PerformData, nil
}

func (u upkeep) PerformUpkeep(ctx context.Context, performData []byte) error {
	_, err := u.engine.PerformUpkeep(ctx, performData)
	return err
}
