package api

import "socialbackend/models"

// DomainUserToAPIUser converts a domain User model to an API UserModel
func DomainUserToAPIUser(domainUser *models.User) *UserModel {
	if domainUser == nil {
		return nil
	}

	return &UserModel{
		ID:        domainUser.ID,
		CreatedAt: domainUser.CreatedAt,
		UpdatedAt: domainUser.UpdatedAt,
	}
}

// DomainIntegrationToAPIIntegration converts a domain Integration to its public API shape
func DomainIntegrationToAPIIntegration(integration *models.Integration) *IntegrationModel {
	if integration == nil {
		return nil
	}

	return &IntegrationModel{
		ID:                 integration.ID,
		ProviderIdentifier: integration.ProviderIdentifier.String(),
		InternalID:         integration.InternalID,
		Name:               derefString(integration.Name),
		Picture:            derefString(integration.Picture),
		Profile:            derefString(integration.Profile),
		TokenExpiration:    integration.TokenExpiration,
		RefreshNeeded:      integration.RefreshNeeded,
		Disabled:           integration.Disabled,
		CreatedAt:          integration.CreatedAt,
		UpdatedAt:          integration.UpdatedAt,
	}
}

func DomainIntegrationsToAPIIntegrations(integrations []*models.Integration) []*IntegrationModel {
	result := make([]*IntegrationModel, 0, len(integrations))
	for _, integration := range integrations {
		result = append(result, DomainIntegrationToAPIIntegration(integration))
	}
	return result
}

func DomainIntegrationStatusToAPI(status *models.IntegrationStatus) *IntegrationStatusModel {
	if status == nil {
		return nil
	}

	return &IntegrationStatusModel{
		ProviderIdentifier: status.ProviderIdentifier.String(),
		Connected:          status.Connected,
		NeedsReconnect:     status.NeedsReconnect,
		TokenExpiration:    status.TokenExpiration,
	}
}

// CreatePostRequestToDomain converts the posts endpoint body into provider-agnostic post details
func CreatePostRequestToDomain(req *CreatePostRequest) *models.PostDetails {
	if req == nil {
		return nil
	}

	media := make([]models.PostMedia, 0, len(req.Media))
	for _, m := range req.Media {
		media = append(media, models.PostMedia{URL: m.URL, Type: models.MediaType(m.Type)})
	}

	return &models.PostDetails{
		Text:          req.Text,
		Title:         req.Title,
		Media:         media,
		ReplySettings: req.ReplySettings,
		Privacy:       req.Privacy,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
