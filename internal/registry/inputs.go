package registry

import "webhook-relay/internal/models"

// SourceInput creates a source. Omitted fields take their defaults.
type SourceInput struct {
	Name         string   `json:"name" validate:"required,max=128"`
	MaxBodyBytes int64    `json:"max_body_bytes" validate:"gte=0"`
	IPAllowCIDRs []string `json:"ip_allow_cidrs" validate:"omitempty,dive,required"`
	Enabled      *bool    `json:"enabled"`
}

// SourceUpdate changes the fields that are set. A non-nil empty
// IPAllowCIDRs clears the allowlist.
type SourceUpdate struct {
	Name         *string  `json:"name" validate:"omitempty,min=1,max=128"`
	MaxBodyBytes *int64   `json:"max_body_bytes" validate:"omitempty,gt=0"`
	IPAllowCIDRs []string `json:"ip_allow_cidrs" validate:"omitempty,dive,required"`
	Enabled      *bool    `json:"enabled"`
}

// DestinationInput creates a destination or, for updates, replaces the
// fields that are set.
type DestinationInput struct {
	Name                *string           `json:"name" validate:"omitempty,min=1,max=128"`
	URL                 *string           `json:"url" validate:"omitempty,destination_url"`
	Headers             map[string]string `json:"headers" validate:"omitempty,dive,keys,header_name,endkeys"`
	MaxRPS              *float64          `json:"max_rps" validate:"omitempty,gt=0"`
	Burst               *int              `json:"burst" validate:"omitempty,min=1"`
	MaxInflight         *int              `json:"max_inflight" validate:"omitempty,min=1"`
	AppendPath          *bool             `json:"append_path"`
	Secret              *string           `json:"secret"`
	TimeoutSeconds      *int              `json:"timeout_s" validate:"omitempty,min=1,max=300"`
	ConnectTimeoutSecs  *int              `json:"connect_timeout_s" validate:"omitempty,min=1,max=60"`
	VerifyTLS           *bool             `json:"verify_tls"`
	BreakerFailureRatio *float64          `json:"breaker_failure_ratio" validate:"omitempty,gt=0,lte=1"`
	BreakerMinRequests  *int              `json:"breaker_min_requests" validate:"omitempty,min=1"`
	BreakerCooldownSecs *int              `json:"breaker_cooldown_s" validate:"omitempty,min=1"`
}

// RouteInput creates a route. Either ids or names identify the endpoints;
// ids win when both are given.
type RouteInput struct {
	SourceID        string  `json:"source_id"`
	SourceName      string  `json:"source_name"`
	DestinationID   string  `json:"destination_id"`
	DestinationName string  `json:"destination_name"`
	ContentTypeLike *string `json:"content_type_like" validate:"omitempty,mime_pattern"`
	Ord             int     `json:"ord"`
	Paused          bool    `json:"paused"`
}

func (in DestinationInput) apply(d *models.Destination) {
	if in.Name != nil {
		d.Name = *in.Name
	}
	if in.URL != nil {
		d.URL = *in.URL
	}
	if in.Headers != nil {
		d.Headers = make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			d.Headers[k] = v
		}
	}
	if in.MaxRPS != nil {
		d.MaxRPS = *in.MaxRPS
	}
	if in.Burst != nil {
		d.Burst = *in.Burst
	}
	if in.MaxInflight != nil {
		d.MaxInflight = *in.MaxInflight
	}
	if in.AppendPath != nil {
		d.AppendPath = *in.AppendPath
	}
	if in.TimeoutSeconds != nil {
		d.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.ConnectTimeoutSecs != nil {
		d.ConnectTimeoutSecs = *in.ConnectTimeoutSecs
	}
	if in.VerifyTLS != nil {
		d.VerifyTLS = *in.VerifyTLS
	}
	if in.BreakerFailureRatio != nil {
		d.BreakerFailureRatio = *in.BreakerFailureRatio
	}
	if in.BreakerMinRequests != nil {
		d.BreakerMinRequests = *in.BreakerMinRequests
	}
	if in.BreakerCooldownSecs != nil {
		d.BreakerCooldownSecs = *in.BreakerCooldownSecs
	}
}

func defaultDestination() *models.Destination {
	return &models.Destination{
		Headers:             map[string]string{},
		MaxRPS:              models.DefaultMaxRPS,
		Burst:               models.DefaultBurst,
		MaxInflight:         models.DefaultMaxInflight,
		TimeoutSeconds:      models.DefaultTimeoutSeconds,
		ConnectTimeoutSecs:  models.DefaultConnectTimeoutSecs,
		VerifyTLS:           true,
		BreakerFailureRatio: models.DefaultBreakerFailureRatio,
		BreakerMinRequests:  models.DefaultBreakerMinRequests,
		BreakerCooldownSecs: models.DefaultBreakerCooldownSecs,
	}
}
