package dto

type CreateOrgRequest struct {
	Name string `json:"name"`
}

func (r CreateOrgRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Name == "" {
		errors["name"] = "Name is required"
	}
	return errors
}

type BootstrapOrgRequest struct {
	Name   string   `json:"name"`
	Emails []string `json:"emails"`
}

func (r BootstrapOrgRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Name == "" {
		errors["name"] = "Name is required"
	}
	if len(r.Emails) == 0 {
		errors["emails"] = "At least one email is required"
	}
	return errors
}

type TransferOwnershipRequest struct {
	Email string `json:"email"`
}

func (r TransferOwnershipRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	return errors
}

type OrgDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	MaxMembers int    `json:"max_members"`
	OwnerID    string `json:"owner_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type ReplacementOrgDTO struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

type DeleteOrgResponse struct {
	Message         string              `json:"message"`
	ReplacementOrgs []ReplacementOrgDTO `json:"replacement_orgs"`
}
