package models

import (
	"sort"
	"strings"
	"time"

	"lankatrips/internal/fsm"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type CommunicationType string

const (
	CommunicationMessage      CommunicationType = "message"
	CommunicationNote         CommunicationType = "note"
	CommunicationEmail        CommunicationType = "email"
	CommunicationStatusChange CommunicationType = "status_change"
	CommunicationEdit         CommunicationType = "edit"
	CommunicationAssignment   CommunicationType = "assignment"
	CommunicationApproval     CommunicationType = "approval"
	CommunicationRejection    CommunicationType = "rejection"
	CommunicationBooking      CommunicationType = "booking"
)

// UserPostable reports whether callers may post entries of this type directly.
func (c CommunicationType) UserPostable() bool {
	switch c {
	case CommunicationMessage, CommunicationNote, CommunicationEmail:
		return true
	}
	return false
}

type Travelers struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
	Infants  int `json:"infants"`
}

type Budget struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency"`
}

type Destination struct {
	Name          string   `json:"name"`
	Duration      int      `json:"duration"`
	Activities    []string `json:"activities,omitempty"`
	Accommodation string   `json:"accommodation,omitempty"`
	Budget        *float64 `json:"budget,omitempty"`
}

type Preferences struct {
	Accommodation       string   `json:"accommodation"`
	Transportation      string   `json:"transportation"`
	MealPlan            string   `json:"mealPlan"`
	SpecialRequirements []string `json:"specialRequirements,omitempty"`
}

type ContactInfo struct {
	Phone                  string `json:"phone"`
	CountryCode            string `json:"countryCode"`
	PreferredContactMethod string `json:"preferredContactMethod"`
	Timezone               string `json:"timezone"`
}

type Review struct {
	ApprovedCost      float64   `json:"approvedCost"`
	ApprovalNotes     string    `json:"approvalNotes,omitempty"`
	ApprovedItinerary string    `json:"approvedItinerary,omitempty"`
	ReviewedBy        int       `json:"reviewedBy"`
	ReviewedAt        time.Time `json:"reviewedAt"`
}

// Communication is one immutable entry of a trip request's log.
type Communication struct {
	ID         string            `json:"id"`
	SentBy     int               `json:"sentBy"`
	SentByRole string            `json:"sentByRole"`
	Message    string            `json:"message"`
	Type       CommunicationType `json:"type"`
	SentAt     time.Time         `json:"sentAt"`
}

type TripRequest struct {
	ID              string          `json:"id"`
	UserID          int             `json:"userId"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Tags            []string        `json:"tags"`
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	Travelers       Travelers       `json:"travelers"`
	Budget          Budget          `json:"budget"`
	Destinations    []Destination   `json:"destinations"`
	Preferences     Preferences     `json:"preferences"`
	ContactInfo     ContactInfo     `json:"contactInfo"`
	Status          fsm.Status      `json:"status"`
	Priority        Priority        `json:"priority"`
	Review          *Review         `json:"review,omitempty"`
	RejectionReason string          `json:"rejectionReason,omitempty"`
	AssignedTo      *int            `json:"assignedTo,omitempty"`
	Communications  []Communication `json:"communications"`
	BookingID       *string         `json:"bookingId,omitempty"`
	Booking         *Booking        `json:"booking,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       *time.Time      `json:"updatedAt,omitempty"`
}

// TripDetails holds the customer-editable part of a trip request.
type TripDetails struct {
	Title        string
	Description  string
	Tags         []string
	StartDate    time.Time
	EndDate      time.Time
	Travelers    Travelers
	Budget       Budget
	Destinations []Destination
	Preferences  Preferences
	ContactInfo  ContactInfo
}

// Details returns the editable part of r.
func (r TripRequest) Details() TripDetails {
	return TripDetails{
		Title:        r.Title,
		Description:  r.Description,
		Tags:         r.Tags,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		Travelers:    r.Travelers,
		Budget:       r.Budget,
		Destinations: r.Destinations,
		Preferences:  r.Preferences,
		ContactInfo:  r.ContactInfo,
	}
}

// ApplyDetails overwrites the editable part of r.
func (r *TripRequest) ApplyDetails(d TripDetails) {
	r.Title = d.Title
	r.Description = d.Description
	r.Tags = NormalizeSet(d.Tags)
	r.StartDate = d.StartDate
	r.EndDate = d.EndDate
	r.Travelers = d.Travelers
	r.Budget = d.Budget
	r.Destinations = d.Destinations
	for i := range r.Destinations {
		r.Destinations[i].Activities = NormalizeSet(r.Destinations[i].Activities)
	}
	r.Preferences = d.Preferences
	r.ContactInfo = d.ContactInfo
}

// TripRequestPatch carries an edit; nil fields are left untouched.
type TripRequestPatch struct {
	Title        *string
	Description  *string
	Tags         []string
	StartDate    *time.Time
	EndDate      *time.Time
	Travelers    *Travelers
	Budget       *Budget
	Destinations []Destination
	Preferences  *Preferences
	ContactInfo  *ContactInfo
}

// Apply merges p into d and returns the names of the changed fields.
func (p TripRequestPatch) Apply(d *TripDetails) []string {
	var changed []string
	if p.Title != nil {
		d.Title = *p.Title
		changed = append(changed, "title")
	}
	if p.Description != nil {
		d.Description = *p.Description
		changed = append(changed, "description")
	}
	if p.Tags != nil {
		d.Tags = p.Tags
		changed = append(changed, "tags")
	}
	if p.StartDate != nil {
		d.StartDate = *p.StartDate
		changed = append(changed, "startDate")
	}
	if p.EndDate != nil {
		d.EndDate = *p.EndDate
		changed = append(changed, "endDate")
	}
	if p.Travelers != nil {
		d.Travelers = *p.Travelers
		changed = append(changed, "travelers")
	}
	if p.Budget != nil {
		d.Budget = *p.Budget
		changed = append(changed, "budget")
	}
	if p.Destinations != nil {
		d.Destinations = p.Destinations
		changed = append(changed, "destinations")
	}
	if p.Preferences != nil {
		d.Preferences = *p.Preferences
		changed = append(changed, "preferences")
	}
	if p.ContactInfo != nil {
		d.ContactInfo = *p.ContactInfo
		changed = append(changed, "contactInfo")
	}
	return changed
}

// TripRequestFilter selects trip requests for listing.
type TripRequestFilter struct {
	UserID     *int
	Status     fsm.Status
	Priority   Priority
	Search     string
	AssignedTo *int
	Page       int
	Limit      int
}

// StatusStats is the aggregate returned by the stats endpoint.
type StatusStats struct {
	Total    int                `json:"total"`
	ByStatus map[fsm.Status]int `json:"byStatus"`
}

// NormalizeSet trims, de-duplicates and sorts a set of strings.
func NormalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
