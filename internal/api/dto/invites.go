package dto

type SendInviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func (r SendInviteRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	return errors
}

type AcceptInviteRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

func (r AcceptInviteRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Token == "" {
		errors["token"] = "Token is required"
	}
	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	return errors
}

type InviteDTO struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	Bootstrap  bool   `json:"bootstrap,omitempty"`
	ExpiresAt  string `json:"expires_at"`
	CreatedAt  string `json:"created_at"`
	AcceptedAt string `json:"accepted_at,omitempty"`
}

type ValidateInviteResponse struct {
	Valid        bool   `json:"valid"`
	Organization string `json:"organization,omitempty"`
	Email        string `json:"email,omitempty"`
}
