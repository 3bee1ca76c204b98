package dto

import (
	"time"

	"fileshare/internal/model"
)

// UserCreateDTO is used for incoming create requests
type UserCreateDTO struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName" validate:"required,min=2,max=100"`
	Username string `json:"username" validate:"omitempty,alphanum,min=3,max=40"`
	Language string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

// UserResponseDTO is returned in API responses
type UserResponseDTO struct {
	ID               string                  `json:"id"`
	Email            string                  `json:"email"`
	FullName         string                  `json:"fullName"`
	Username         string                  `json:"username,omitempty"`
	Language         string                  `json:"language,omitempty"`
	Quota            model.QuotaState        `json:"quota"`
	Subscription     model.SubscriptionState `json:"subscription"`
	PaymentMethod    model.PaymentMethod     `json:"paymentMethod"`
	Billing          model.BillingDetails    `json:"billing"`
	DefaultWorkspace string                  `json:"defaultWorkspace"`
	CreatedAt        time.Time               `json:"createdAt"`
}

func NewUserResponse(u *model.User) UserResponseDTO {
	return UserResponseDTO{
		ID:               u.ID,
		Email:            u.Identity.Email,
		FullName:         u.Identity.FullName,
		Username:         u.Identity.Username,
		Language:         u.Identity.Language,
		Quota:            u.Quota,
		Subscription:     u.Subscription,
		PaymentMethod:    u.PaymentMethod,
		Billing:          u.Billing,
		DefaultWorkspace: u.DefaultWorkspaceID,
		CreatedAt:        u.CreatedAt,
	}
}

type BillingDetailsDTO struct {
	Name       string `json:"name" validate:"required,max=200"`
	Address    string `json:"address" validate:"required,max=300"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	City       string `json:"city" validate:"required,max=100"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	VATNumber  string `json:"vatNumber" validate:"omitempty,max=40"`
}

func (b BillingDetailsDTO) Model() model.BillingDetails {
	return model.BillingDetails{
		Name:       b.Name,
		Address:    b.Address,
		PostalCode: b.PostalCode,
		City:       b.City,
		Country:    b.Country,
		VATNumber:  b.VATNumber,
	}
}
