package services

import (
	"strings"
	"time"
	"unicode/utf8"

	"lankatrips/internal/models"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
	maxMessageLength     = 2000
	defaultCurrency      = "LKR"
	preferenceAny        = "any"
)

var (
	accommodationOptions  = []string{"any", "budget", "mid_range", "luxury", "boutique", "villa"}
	transportationOptions = []string{"any", "private_car", "van", "bus", "train", "self_drive"}
	mealPlanOptions       = []string{"any", "room_only", "breakfast", "half_board", "full_board", "all_inclusive"}
	contactMethodOptions  = []string{"phone", "email", "whatsapp"}
)

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// normalizeDetails fills defaults in d.
func normalizeDetails(d *models.TripDetails) {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Budget.Currency = strings.ToUpper(strings.TrimSpace(d.Budget.Currency))
	if d.Budget.Currency == "" {
		d.Budget.Currency = defaultCurrency
	}
	if d.Preferences.Accommodation == "" {
		d.Preferences.Accommodation = preferenceAny
	}
	if d.Preferences.Transportation == "" {
		d.Preferences.Transportation = preferenceAny
	}
	if d.Preferences.MealPlan == "" {
		d.Preferences.MealPlan = preferenceAny
	}
	for i := range d.Destinations {
		d.Destinations[i].Name = strings.TrimSpace(d.Destinations[i].Name)
	}
}

// validateDetails checks the customer-editable fields. requireFuture is set
// when the dates must lie after now.
func validateDetails(d models.TripDetails, now time.Time, requireFuture bool) error {
	if d.Title == "" || utf8.RuneCountInString(d.Title) > maxTitleLength {
		return models.NewValidationError("title", "title must be 1 to %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(d.Description) > maxDescriptionLength {
		return models.NewValidationError("description", "description must be at most %d characters", maxDescriptionLength)
	}

	if d.StartDate.IsZero() || d.EndDate.IsZero() {
		return models.NewValidationError("startDate", "start and end dates are required")
	}
	if !d.StartDate.Before(d.EndDate) {
		return models.NewValidationError("endDate", "end date must be after the start date")
	}
	if requireFuture && !d.StartDate.After(now) {
		return models.NewValidationError("startDate", "start date must be in the future")
	}

	if d.Travelers.Adults < 1 {
		return models.NewValidationError("travelers.adults", "at least one adult is required")
	}
	if d.Travelers.Children < 0 || d.Travelers.Infants < 0 {
		return models.NewValidationError("travelers", "traveler counts cannot be negative")
	}

	if d.Budget.Min != nil && *d.Budget.Min < 0 {
		return models.NewValidationError("budget.min", "minimum budget cannot be negative")
	}
	if d.Budget.Max != nil && *d.Budget.Max < 0 {
		return models.NewValidationError("budget.max", "maximum budget cannot be negative")
	}
	if d.Budget.Min != nil && d.Budget.Max != nil && *d.Budget.Min > *d.Budget.Max {
		return models.NewValidationError("budget", "minimum budget exceeds maximum budget")
	}
	if len(d.Budget.Currency) != 3 {
		return models.NewValidationError("budget.currency", "currency must be a three letter ISO code")
	}

	if len(d.Destinations) == 0 {
		return models.NewValidationError("destinations", "at least one destination is required")
	}
	for _, dest := range d.Destinations {
		if dest.Name == "" {
			return models.NewValidationError("destinations.name", "destination name is required")
		}
		if dest.Duration < 1 {
			return models.NewValidationError("destinations.duration", "%s must last at least one day", dest.Name)
		}
		if dest.Budget != nil && *dest.Budget < 0 {
			return models.NewValidationError("destinations.budget", "%s budget cannot be negative", dest.Name)
		}
	}

	if !oneOf(d.Preferences.Accommodation, accommodationOptions) {
		return models.NewValidationError("preferences.accommodation", "unknown accommodation %q", d.Preferences.Accommodation)
	}
	if !oneOf(d.Preferences.Transportation, transportationOptions) {
		return models.NewValidationError("preferences.transportation", "unknown transportation %q", d.Preferences.Transportation)
	}
	if !oneOf(d.Preferences.MealPlan, mealPlanOptions) {
		return models.NewValidationError("preferences.mealPlan", "unknown meal plan %q", d.Preferences.MealPlan)
	}

	c := d.ContactInfo
	if strings.TrimSpace(c.Phone) == "" || strings.TrimSpace(c.CountryCode) == "" {
		return models.NewValidationError("contactInfo.phone", "phone and country code are required")
	}
	if !oneOf(c.PreferredContactMethod, contactMethodOptions) {
		return models.NewValidationError("contactInfo.preferredContactMethod", "unknown contact method %q", c.PreferredContactMethod)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		return models.NewValidationError("contactInfo.timezone", "unknown timezone %q", c.Timezone)
	}
	return nil
}
