package dto

import (
	"fileshare/internal/model"
	"fileshare/internal/pricing"
)

// SubscriptionRequestDTO is used both to quote and to start a subscription.
type SubscriptionRequestDTO struct {
	Service         string `json:"service" validate:"omitempty,oneof=stripe paypal"`
	Type            string `json:"type" validate:"required,oneof=monthly yearly"`
	ExtraStorageTB  int    `json:"extraStorage" validate:"gte=0"`
	ExtraWorkspaces int    `json:"extraWorkspaces" validate:"gte=0"`
}

func (s SubscriptionRequestDTO) Options() pricing.Options {
	return pricing.Options{
		Tier:            model.Tier(s.Type),
		ExtraStorageTB:  s.ExtraStorageTB,
		ExtraWorkspaces: s.ExtraWorkspaces,
	}
}

func (s SubscriptionRequestDTO) Provider() model.Provider {
	if s.Service == "" {
		return model.ProviderStripe
	}
	return model.Provider(s.Service)
}

type CardVerificationDTO struct {
	Service         string `json:"service" validate:"omitempty,oneof=stripe"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
}

type CampaignPaymentDTO struct {
	Service string `json:"service" validate:"omitempty,oneof=stripe paypal"`
	Amount  string `json:"amount" validate:"required,numeric"`
}
