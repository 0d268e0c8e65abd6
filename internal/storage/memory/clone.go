package memory

import "webhook-relay/internal/models"

func cloneSource(s *models.Source) *models.Source {
	copied := *s
	copied.IPAllowCIDRs = append([]string(nil), s.IPAllowCIDRs...)
	return &copied
}

func cloneDestination(d *models.Destination) *models.Destination {
	copied := *d
	if d.Headers != nil {
		copied.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			copied.Headers[k] = v
		}
	}
	return &copied
}

func cloneRoute(r *models.Route) *models.Route {
	copied := *r
	if r.ContentTypeLike != nil {
		pattern := *r.ContentTypeLike
		copied.ContentTypeLike = &pattern
	}
	return &copied
}

func cloneEvent(e *models.Event) *models.Event {
	copied := *e
	copied.Body = append([]byte(nil), e.Body...)
	if e.Headers != nil {
		copied.Headers = make(map[string][]string, len(e.Headers))
		for k, v := range e.Headers {
			copied.Headers[k] = append([]string(nil), v...)
		}
	}
	return &copied
}
