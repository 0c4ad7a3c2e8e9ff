package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
	"lankatrips/internal/services"
)

type TripRequestHandler struct {
	Service   *services.TripRequestService
	Approval  *services.ApprovalEngine
	Bridge    *services.BookingBridge
	Validator *RequestValidator
	Log       *zap.Logger
}

type travelersBody struct {
	Adults   int `json:"adults" validate:"min=1"`
	Children int `json:"children" validate:"min=0"`
	Infants  int `json:"infants" validate:"min=0"`
}

type budgetBody struct {
	Min      *float64 `json:"min" validate:"omitempty,gte=0"`
	Max      *float64 `json:"max" validate:"omitempty,gte=0"`
	Currency string   `json:"currency" validate:"omitempty,len=3,alpha"`
}

type destinationBody struct {
	Name          string   `json:"name" validate:"required,max=120"`
	Duration      int      `json:"duration" validate:"min=1"`
	Activities    []string `json:"activities" validate:"max=50,dive,max=100"`
	Accommodation string   `json:"accommodation" validate:"max=120"`
	Budget        *float64 `json:"budget" validate:"omitempty,gte=0"`
}

type preferencesBody struct {
	Accommodation       string   `json:"accommodation" validate:"omitempty,oneof=any budget mid_range luxury boutique villa"`
	Transportation      string   `json:"transportation" validate:"omitempty,oneof=any private_car van bus train self_drive"`
	MealPlan            string   `json:"mealPlan" validate:"omitempty,oneof=any room_only breakfast half_board full_board all_inclusive"`
	SpecialRequirements []string `json:"specialRequirements" validate:"max=20,dive,max=300"`
}

type contactInfoBody struct {
	Phone                  string `json:"phone" validate:"required,max=30"`
	CountryCode            string `json:"countryCode" validate:"required,max=6"`
	PreferredContactMethod string `json:"preferredContactMethod" validate:"required,oneof=phone email whatsapp"`
	Timezone               string `json:"timezone" validate:"required,timezone"`
}

type createTripRequestBody struct {
	Title        string            `json:"title" validate:"required,max=200"`
	Description  string            `json:"description" validate:"max=5000"`
	Tags         []string          `json:"tags" validate:"max=30,dive,max=50"`
	StartDate    time.Time         `json:"startDate" validate:"required"`
	EndDate      time.Time         `json:"endDate" validate:"required,gtfield=StartDate"`
	Travelers    travelersBody     `json:"travelers"`
	Budget       budgetBody        `json:"budget"`
	Destinations []destinationBody `json:"destinations" validate:"required,min=1,dive"`
	Preferences  preferencesBody   `json:"preferences"`
	ContactInfo  contactInfoBody   `json:"contactInfo"`
}

type editTripRequestBody struct {
	Title        *string           `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string           `json:"description" validate:"omitempty,max=5000"`
	Tags         []string          `json:"tags" validate:"omitempty,max=30,dive,max=50"`
	StartDate    *time.Time        `json:"startDate"`
	EndDate      *time.Time        `json:"endDate"`
	Travelers    *travelersBody    `json:"travelers" validate:"omitempty"`
	Budget       *budgetBody       `json:"budget" validate:"omitempty"`
	Destinations []destinationBody `json:"destinations" validate:"omitempty,min=1,dive"`
	Preferences  *preferencesBody  `json:"preferences" validate:"omitempty"`
	ContactInfo  *contactInfoBody  `json:"contactInfo" validate:"omitempty"`
}

func (b travelersBody) model() models.Travelers {
	return models.Travelers{Adults: b.Adults, Children: b.Children, Infants: b.Infants}
}

func (b budgetBody) model() models.Budget {
	return models.Budget{Min: b.Min, Max: b.Max, Currency: b.Currency}
}

func (b preferencesBody) model() models.Preferences {
	return models.Preferences{
		Accommodation:       b.Accommodation,
		Transportation:      b.Transportation,
		MealPlan:            b.MealPlan,
		SpecialRequirements: b.SpecialRequirements,
	}
}

func (b contactInfoBody) model() models.ContactInfo {
	return models.ContactInfo{
		Phone:                  b.Phone,
		CountryCode:            b.CountryCode,
		PreferredContactMethod: b.PreferredContactMethod,
		Timezone:               b.Timezone,
	}
}

func destinationModels(in []destinationBody) []models.Destination {
	if in == nil {
		return nil
	}
	out := make([]models.Destination, 0, len(in))
	for _, d := range in {
		out = append(out, models.Destination{
			Name:          d.Name,
			Duration:      d.Duration,
			Activities:    d.Activities,
			Accommodation: d.Accommodation,
			Budget:        d.Budget,
		})
	}
	return out
}

func (h *TripRequestHandler) CreateTripRequest(w http.ResponseWriter, r *http.Request) {
	var body createTripRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	req, err := h.Service.Create(r.Context(), actorFromRequest(r), models.TripDetails{
		Title:        body.Title,
		Description:  body.Description,
		Tags:         body.Tags,
		StartDate:    body.StartDate,
		EndDate:      body.EndDate,
		Travelers:    body.Travelers.model(),
		Budget:       body.Budget.model(),
		Destinations: destinationModels(body.Destinations),
		Preferences:  body.Preferences.model(),
		ContactInfo:  body.ContactInfo.model(),
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusCreated, req, nil)
}

func (h *TripRequestHandler) ListMyTripRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := tripRequestFilter(r)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	reqs, total, err := h.Service.ListMine(r.Context(), actorFromRequest(r), filter)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeList(w, reqs, filter, total)
}

func (h *TripRequestHandler) ListTripRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := tripRequestFilter(r)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	reqs, total, err := h.Service.List(r.Context(), actorFromRequest(r), filter)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeList(w, reqs, filter, total)
}

func tripRequestFilter(r *http.Request) (models.TripRequestFilter, error) {
	q := r.URL.Query()
	filter := models.TripRequestFilter{
		Status:   fsm.Status(strings.TrimSpace(q.Get("status"))),
		Priority: models.Priority(strings.TrimSpace(q.Get("priority"))),
		Search:   q.Get("search"),
	}
	var err error
	if filter.Page, err = queryInt(r, "page"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if q.Get("assignedTo") != "" {
		assignee, err := queryInt(r, "assignedTo")
		if err != nil {
			return filter, err
		}
		filter.AssignedTo = &assignee
	}
	return filter, nil
}

func writeList(w http.ResponseWriter, reqs []models.TripRequest, filter models.TripRequestFilter, total int) {
	if reqs == nil {
		reqs = []models.TripRequest{}
	}
	page, limit, _ := models.Paginate(filter.Page, filter.Limit)
	writeData(w, http.StatusOK, reqs, &Meta{Page: page, Limit: limit, Total: &total})
}

func (h *TripRequestHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context(), actorFromRequest(r))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, stats, nil)
}

func (h *TripRequestHandler) GetTripRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.Get(r.Context(), actorFromRequest(r), getParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, req, nil)
}

func (h *TripRequestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status" validate:"required"`
		Note   string `json:"note" validate:"max=2000"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	status, err := fsm.Parse(body.Status)
	if err != nil {
		writeError(w, h.Log, r, models.NewValidationError("status", "unknown status %q", body.Status))
		return
	}
	out, err := h.Service.UpdateStatus(r.Context(), actorFromRequest(r), getParam(r, "id"), status, body.Note)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, out.TripRequest, warningsMeta(out.Warnings))
}

func (h *TripRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApprovedCost      json.RawMessage `json:"approvedCost"`
		ApprovalNotes     string          `json:"approvalNotes" validate:"max=2000"`
		ApprovedItinerary string          `json:"approvedItinerary" validate:"max=10000"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	out, err := h.Approval.Approve(r.Context(), actorFromRequest(r), getParam(r, "id"), services.ApproveInput{
		ApprovedCost:      string(body.ApprovedCost),
		ApprovalNotes:     body.ApprovalNotes,
		ApprovedItinerary: body.ApprovedItinerary,
	})
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, out.TripRequest, warningsMeta(out.Warnings))
}

func (h *TripRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason" validate:"max=2000"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	out, err := h.Approval.Reject(r.Context(), actorFromRequest(r), getParam(r, "id"), body.Reason)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, out.TripRequest, warningsMeta(out.Warnings))
}

func (h *TripRequestHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var body editTripRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	patch := models.TripRequestPatch{
		Title:        body.Title,
		Description:  body.Description,
		Tags:         body.Tags,
		StartDate:    body.StartDate,
		EndDate:      body.EndDate,
		Destinations: destinationModels(body.Destinations),
	}
	if body.Travelers != nil {
		t := body.Travelers.model()
		patch.Travelers = &t
	}
	if body.Budget != nil {
		b := body.Budget.model()
		patch.Budget = &b
	}
	if body.Preferences != nil {
		p := body.Preferences.model()
		patch.Preferences = &p
	}
	if body.ContactInfo != nil {
		c := body.ContactInfo.model()
		patch.ContactInfo = &c
	}

	req, err := h.Service.Edit(r.Context(), actorFromRequest(r), getParam(r, "id"), patch)
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, req, nil)
}

func (h *TripRequestHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssignedTo int    `json:"assignedTo" validate:"required,gt=0"`
		Priority   string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	out, err := h.Service.Assign(r.Context(), actorFromRequest(r), getParam(r, "id"), body.AssignedTo, models.Priority(body.Priority))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, out.TripRequest, warningsMeta(out.Warnings))
}

func (h *TripRequestHandler) AddCommunication(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message" validate:"required,max=2000"`
		Type    string `json:"type" validate:"omitempty,oneof=message note email"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	if err := h.Validator.Validate(body); err != nil {
		writeError(w, h.Log, r, err)
		return
	}

	res, err := h.Service.AddCommunication(r.Context(), actorFromRequest(r), getParam(r, "id"), body.Message, models.CommunicationType(body.Type))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusCreated, res.Communication, warningsMeta(res.Warnings))
}

func (h *TripRequestHandler) DeleteTripRequest(w http.ResponseWriter, r *http.Request) {
	id := getParam(r, "id")
	if err := h.Service.Delete(r.Context(), actorFromRequest(r), id); err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"id": id, "deleted": true}, nil)
}

func (h *TripRequestHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	out, err := h.Bridge.CreateBooking(r.Context(), actorFromRequest(r), getParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, r, err)
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	writeData(w, status, map[string]interface{}{
		"tripRequest": out.TripRequest,
		"booking":     out.Booking,
		"created":     out.Created,
	}, warningsMeta(out.Warnings))
}
