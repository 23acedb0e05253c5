package dto

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	Retryable bool           `json:"retryable"`
	RequestID string         `json:"requestId"`
	Details   map[string]any `json:"details"`
}

type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error ErrorBody `json:"error"`
}

type CapabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}

type DiscoveryAPI struct {
	Capabilities string `json:"capabilities"`
	Health       string `json:"health"`
	Metrics      string `json:"metrics"`
}

type DiscoveryAuth struct {
	Type string `json:"type"`
	Note string `json:"note"`
}

type DiscoveryPaid struct {
	Enabled        bool   `json:"enabled"`
	Checkout       string `json:"checkout"`
	InstanceStatus string `json:"instanceStatus"`
}

type DiscoveryResponse struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Version        string        `json:"version"`
	API            DiscoveryAPI  `json:"api"`
	Authentication DiscoveryAuth `json:"authentication"`
	PaidExtension  DiscoveryPaid `json:"paidExtension"`
}
