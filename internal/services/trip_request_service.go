package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
	"lankatrips/internal/repositories"
)

// TripRequestService exposes the trip request operations used by the REST
// handlers. Status changes go through the state machine and approval engine.
type TripRequestService struct {
	Store    TripRequestStore
	Users    UserDirectory
	Machine  *TripRequestStateMachine
	Approval *ApprovalEngine
	Notifier Notifier
	Mailer   Mailer
	Logger   Logger
}

func NewTripRequestService(store TripRequestStore, users UserDirectory, machine *TripRequestStateMachine, approval *ApprovalEngine, notifier Notifier, mailer Mailer, logger Logger) *TripRequestService {
	return &TripRequestService{
		Store:    store,
		Users:    users,
		Machine:  machine,
		Approval: approval,
		Notifier: notifier,
		Mailer:   mailer,
		Logger:   loggerOrNop(logger),
	}
}

func (s *TripRequestService) Create(ctx context.Context, actor models.Actor, details models.TripDetails) (models.TripRequest, error) {
	if err := Authorize(actor, ActionCreateTripRequest, Resource{OwnerID: actor.UserID}); err != nil {
		return models.TripRequest{}, err
	}
	now := s.Machine.Now()
	normalizeDetails(&details)
	if err := validateDetails(details, now, true); err != nil {
		return models.TripRequest{}, err
	}

	req := models.TripRequest{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		Status:    fsm.StatusPending,
		Priority:  models.PriorityMedium,
		CreatedAt: now,
	}
	req.ApplyDetails(details)

	created, err := s.Store.Create(ctx, req)
	if err != nil {
		return models.TripRequest{}, fmt.Errorf("create trip request: %w", err)
	}
	s.Logger.Infof("trip request %s created by user %d", created.ID, actor.UserID)
	return created, nil
}

func (s *TripRequestService) Get(ctx context.Context, actor models.Actor, id string) (models.TripRequest, error) {
	req, err := loadTripRequest(ctx, s.Store, id)
	if err != nil {
		return models.TripRequest{}, err
	}
	if err := Authorize(actor, ActionViewTripRequest, TripRequestResource(req)); err != nil {
		return models.TripRequest{}, err
	}
	return req, nil
}

// ListMine lists the caller's own trip requests.
func (s *TripRequestService) ListMine(ctx context.Context, actor models.Actor, filter models.TripRequestFilter) ([]models.TripRequest, int, error) {
	if actor.UserID == 0 {
		return nil, 0, &models.Error{Kind: models.KindUnauthenticated, Message: "authentication required"}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, models.NewValidationError("status", "unknown status %q", filter.Status)
	}
	userID := actor.UserID
	return s.Store.List(ctx, models.TripRequestFilter{
		UserID: &userID,
		Status: filter.Status,
		Page:   filter.Page,
		Limit:  filter.Limit,
	})
}

func (s *TripRequestService) List(ctx context.Context, actor models.Actor, filter models.TripRequestFilter) ([]models.TripRequest, int, error) {
	if err := Authorize(actor, ActionListTripRequests, Resource{}); err != nil {
		return nil, 0, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, models.NewValidationError("status", "unknown status %q", filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, 0, models.NewValidationError("priority", "unknown priority %q", filter.Priority)
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.Store.List(ctx, filter)
}

// UpdateStatus is the generic status endpoint. Approval has its own
// operation, booking states belong to the payment flow and rejection is
// routed through the approval engine with note as the reason.
func (s *TripRequestService) UpdateStatus(ctx context.Context, actor models.Actor, id string, status fsm.Status, note string) (Outcome, error) {
	switch {
	case !status.Valid():
		return Outcome{}, models.NewValidationError("status", "unknown status %q", status)
	case status == fsm.StatusApproved:
		return Outcome{}, models.NewValidationError("status", "use PUT /trip-requests/%s/approve to approve a trip request", id)
	case status == fsm.StatusPendingPayment || status == fsm.StatusBooked:
		return Outcome{}, models.NewAuthorizationError("status %s is set by the booking flow only", status)
	case status == fsm.StatusRejected:
		return s.Approval.Reject(ctx, actor, id, note)
	}

	req, err := s.Machine.Transition(ctx, id, TransitionInput{Actor: actor, To: status, Note: note})
	if err != nil {
		return Outcome{}, err
	}

	var warnings []string
	if actor.UserID != req.UserID {
		warnings = notifyBestEffort(ctx, s.Notifier, s.Logger, NotifyInput{
			UserID:   req.UserID,
			Type:     models.NotificationTripRequest,
			Title:    "Trip request updated",
			Message:  truncate(fmt.Sprintf("Your trip request %q is now %s.", req.Title, strings.ReplaceAll(string(req.Status), "_", " ")), models.MaxNotificationMessage),
			Priority: models.PriorityMedium,
			Data:     encodeData(map[string]interface{}{"tripRequestId": req.ID, "status": req.Status}),
		})
	}
	return Outcome{TripRequest: req, Warnings: warnings}, nil
}

// Edit merges patch into the request while it is still editable.
func (s *TripRequestService) Edit(ctx context.Context, actor models.Actor, id string, patch models.TripRequestPatch) (models.TripRequest, error) {
	editable := func(status fsm.Status) error {
		if !status.Editable() {
			return models.NewEditNotAllowedError(string(status))
		}
		return nil
	}
	return s.Machine.Mutate(ctx, actor, id, ActionEditTripRequest, editable, func(req *models.TripRequest, t *repositories.Transition) error {
		details := req.Details()
		changed := patch.Apply(&details)
		if len(changed) == 0 {
			return models.NewValidationError("body", "no editable fields supplied")
		}
		normalizeDetails(&details)
		datesChanged := patch.StartDate != nil || patch.EndDate != nil
		if err := validateDetails(details, t.Now, datesChanged); err != nil {
			return err
		}

		req.ApplyDetails(details)
		applied := req.Details()
		t.Details = &applied
		comm := newCommunication(actor, models.CommunicationEdit,
			fmt.Sprintf("trip request edited by %s: %s", actor.Role, strings.Join(changed, ", ")), t.Now)
		t.Communication = &comm
		return nil
	})
}

// Assign hands the request to a staff member and optionally changes its priority.
func (s *TripRequestService) Assign(ctx context.Context, actor models.Actor, id string, assigneeID int, priority models.Priority) (Outcome, error) {
	if err := Authorize(actor, ActionAssignTripRequest, Resource{}); err != nil {
		return Outcome{}, err
	}
	if priority != "" && !priority.Valid() {
		return Outcome{}, models.NewValidationError("priority", "unknown priority %q", priority)
	}
	assignee, err := s.Users.GetUserByID(ctx, assigneeID)
	if errors.Is(err, models.ErrUserNotFound) {
		return Outcome{}, models.NewUnknownUserError(assigneeID)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup assignee %d: %w", assigneeID, err)
	}
	if !assignee.IsStaff() {
		return Outcome{}, models.NewValidationError("assignedTo", "user %d is not a staff member", assigneeID)
	}

	open := func(status fsm.Status) error {
		if status.Terminal() {
			return models.NewEditNotAllowedError(string(status))
		}
		return nil
	}
	req, err := s.Machine.Mutate(ctx, actor, id, ActionAssignTripRequest, open, func(req *models.TripRequest, t *repositories.Transition) error {
		assigned := assignee.ID
		t.AssignedTo = &assigned
		req.AssignedTo = &assigned
		msg := fmt.Sprintf("assigned to %s", assignee.Name)
		if priority != "" {
			p := priority
			t.Priority = &p
			req.Priority = p
			msg += fmt.Sprintf(" with %s priority", p)
		}
		comm := newCommunication(actor, models.CommunicationAssignment, msg, t.Now)
		t.Communication = &comm
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	var warnings []string
	if assignee.ID != actor.UserID {
		warnings = notifyBestEffort(ctx, s.Notifier, s.Logger, NotifyInput{
			UserID:   assignee.ID,
			Type:     models.NotificationTripRequest,
			Title:    "Trip request assigned to you",
			Message:  truncate(fmt.Sprintf("You were assigned the trip request %q.", req.Title), models.MaxNotificationMessage),
			Priority: req.Priority,
			Data:     encodeData(map[string]interface{}{"tripRequestId": req.ID, "priority": req.Priority}),
		})
	}
	return Outcome{TripRequest: req, Warnings: warnings}, nil
}

type CommunicationResult struct {
	Communication models.Communication
	Warnings      []string
}

// AddCommunication appends a message to the request's log. Staff email
// entries are also relayed to the owner.
func (s *TripRequestService) AddCommunication(ctx context.Context, actor models.Actor, id, message string, cType models.CommunicationType) (CommunicationResult, error) {
	if cType == "" {
		cType = models.CommunicationMessage
	}
	if !cType.UserPostable() {
		return CommunicationResult{}, models.NewValidationError("type", "communication type %q cannot be posted", cType)
	}
	message = strings.TrimSpace(message)
	if message == "" || utf8.RuneCountInString(message) > maxMessageLength {
		return CommunicationResult{}, models.NewValidationError("message", "message must be 1 to %d characters", maxMessageLength)
	}

	req, err := loadTripRequest(ctx, s.Store, id)
	if err != nil {
		return CommunicationResult{}, err
	}
	res := TripRequestResource(req)
	if err := Authorize(actor, ActionPostMessage, res); err != nil {
		return CommunicationResult{}, err
	}
	if cType != models.CommunicationMessage {
		if err := Authorize(actor, ActionPostStaffNote, res); err != nil {
			return CommunicationResult{}, err
		}
	}

	comm := newCommunication(actor, cType, message, s.Machine.Now())
	if err := s.Store.AppendCommunication(ctx, req.ID, comm); err != nil {
		return CommunicationResult{}, fmt.Errorf("append communication to %s: %w", req.ID, err)
	}

	result := CommunicationResult{Communication: comm}
	if cType == models.CommunicationEmail {
		result.Warnings = s.relayEmail(ctx, req, message)
	}
	return result, nil
}

func (s *TripRequestService) relayEmail(ctx context.Context, req models.TripRequest, message string) []string {
	if s.Mailer == nil {
		return []string{"email relay is not configured, message was only logged"}
	}
	owner, err := s.Users.GetUserByID(ctx, req.UserID)
	if err != nil || owner.Email == "" {
		s.Logger.Warnf("no email address for owner %d of trip request %s: %v", req.UserID, req.ID, err)
		return []string{"customer has no email address on file"}
	}
	subject := truncate("Your trip request: "+req.Title, 150)
	if err := s.Mailer.Send(ctx, owner.Email, subject, message); err != nil {
		s.Logger.Warnf("email relay for trip request %s failed: %v", req.ID, err)
		return []string{"email could not be delivered"}
	}
	return nil
}

func (s *TripRequestService) Stats(ctx context.Context, actor models.Actor) (models.StatusStats, error) {
	if err := Authorize(actor, ActionViewStats, Resource{}); err != nil {
		return models.StatusStats{}, err
	}
	counts, err := s.Store.CountByStatus(ctx)
	if err != nil {
		return models.StatusStats{}, err
	}
	stats := models.StatusStats{ByStatus: make(map[fsm.Status]int, len(fsm.All))}
	for _, status := range fsm.All {
		stats.ByStatus[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}

func (s *TripRequestService) Delete(ctx context.Context, actor models.Actor, id string) error {
	req, err := loadTripRequest(ctx, s.Store, id)
	if err != nil {
		return err
	}
	if err := Authorize(actor, ActionDeleteTripRequest, TripRequestResource(req)); err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			return models.NewNotFoundError("trip request", id)
		}
		return err
	}
	s.Logger.Infof("trip request %s deleted by user %d (%s)", id, actor.UserID, actor.Role)
	return nil
}

