package model

// EndpointHealth is the last observed health state of a remote endpoint.
type EndpointHealth string

const (
	HealthUnknown   EndpointHealth = "unknown"
	HealthHealthy   EndpointHealth = "healthy"
	HealthUnhealthy EndpointHealth = "unhealthy"
)

// Endpoint identifies one remote data-source endpoint.
type Endpoint struct {
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	AuthToken string         `json:"-"`
	Health    EndpointHealth `json:"health"`
}
