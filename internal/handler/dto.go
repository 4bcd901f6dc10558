package handler

import (
	"time"

	"github.com/GoArmGo/MatchApp/internal/domain"
	"github.com/GoArmGo/MatchApp/internal/usecase"
	"github.com/google/uuid"
)

// userResponse - публичное представление пользователя, без связей.
type userResponse struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Slug         string    `json:"slug"`
	ProfileImage string    `json:"profile_image"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Description  string    `json:"description"`
	Age          int       `json:"age"`
	CreatedAt    time.Time `json:"created_at"`
}

// accountResponse видит только владелец учётной записи.
type accountResponse struct {
	userResponse
	Partners         domain.IDSet `json:"partners"`
	OutgoingRequests domain.IDSet `json:"outgoing_requests"`
	IncomingRequests domain.IDSet `json:"incoming_requests"`
}

type profileResponse struct {
	User               userResponse   `json:"user"`
	Partners           []userResponse `json:"partners"`
	IsOwner            bool           `json:"is_owner"`
	IsPartner          bool           `json:"is_partner"`
	HasPendingRequest  bool           `json:"has_pending_request"`
	HasIncomingRequest bool           `json:"has_incoming_request"`
}

func toUserResponse(u *domain.User) userResponse {
	resp := userResponse{
		ID:           u.ID,
		Username:     u.Username,
		Slug:         u.Slug,
		ProfileImage: u.ProfileImage,
		Description:  u.Description,
		Age:          u.Age,
		CreatedAt:    u.CreatedAt,
	}
	if !domain.IsDefaultImage(u.ProfileImage) {
		resp.AvatarURL = "/" + u.ProfileImage
	}
	return resp
}

func toUserList(users []domain.User) []userResponse {
	out := make([]userResponse, len(users))
	for i := range users {
		out[i] = toUserResponse(&users[i])
	}
	return out
}

func toAccountResponse(u *domain.User) accountResponse {
	return accountResponse{
		userResponse:     toUserResponse(u),
		Partners:         nonNil(u.Partners),
		OutgoingRequests: nonNil(u.OutgoingRequests),
		IncomingRequests: nonNil(u.IncomingRequests),
	}
}

func toProfileResponse(v *usecase.ProfileView) profileResponse {
	return profileResponse{
		User:               toUserResponse(v.User),
		Partners:           toUserList(v.Partners),
		IsOwner:            v.IsOwner,
		IsPartner:          v.IsPartner,
		HasPendingRequest:  v.HasPendingRequest,
		HasIncomingRequest: v.HasIncomingRequest,
	}
}

func nonNil(s domain.IDSet) domain.IDSet {
	if s == nil {
		return domain.IDSet{}
	}
	return s
}
