package compliance

import "time"

// ExpiringItem describes a document inside the warning window
type ExpiringItem struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
}

// ExpiredItem describes a document past its expiry
type ExpiredItem struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DaysOverdue int    `json:"daysOverdue"`
}

// Details is the JSON-serializable breakdown of a Result. It is both the
// compliance_checks details blob and the body of the external check API.
type Details struct {
	Score     int            `json:"score"`
	Compliant bool           `json:"compliant"`
	Status    Status         `json:"status"`
	Missing   []string       `json:"missing"`
	Expiring  []ExpiringItem `json:"expiring"`
	Expired   []ExpiredItem  `json:"expired"`
	AsOf      time.Time      `json:"asOf"`
}

// Details flattens the result into names and day counts relative to r.AsOf
func (r *Result) Details() Details {
	d := Details{
		Score:     r.Score,
		Compliant: r.IsCompliant,
		Status:    r.Status,
		Missing:   r.MissingNames(),
		Expiring:  make([]ExpiringItem, 0, len(r.Expiring)),
		Expired:   make([]ExpiredItem, 0, len(r.Expired)),
		AsOf:      r.AsOf,
	}
	for _, doc := range r.Expiring {
		d.Expiring = append(d.Expiring, ExpiringItem{
			Name:            doc.Name,
			Type:            doc.DocumentType,
			DaysUntilExpiry: DaysUntil(*doc.ExpiryDate, r.AsOf),
		})
	}
	for _, doc := range r.Expired {
		d.Expired = append(d.Expired, ExpiredItem{
			Name:        doc.Name,
			Type:        doc.DocumentType,
			DaysOverdue: DaysOverdue(*doc.ExpiryDate, r.AsOf),
		})
	}
	return d
}
