package services

import (
	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
)

// Action names a capability checked by Authorize.
type Action string

const (
	ActionCreateTripRequest  Action = "trip_request.create"
	ActionViewTripRequest    Action = "trip_request.view"
	ActionListTripRequests   Action = "trip_request.list"
	ActionViewStats          Action = "trip_request.stats"
	ActionEditTripRequest    Action = "trip_request.edit"
	ActionReviewTripRequest  Action = "trip_request.review"
	ActionApproveTripRequest Action = "trip_request.approve"
	ActionRejectTripRequest  Action = "trip_request.reject"
	ActionAssignTripRequest  Action = "trip_request.assign"
	ActionCancelTripRequest  Action = "trip_request.cancel"
	ActionPostMessage        Action = "trip_request.communicate"
	ActionPostStaffNote      Action = "trip_request.communicate_staff"
	ActionDeleteTripRequest  Action = "trip_request.delete"
	ActionCreateBooking      Action = "trip_request.create_booking"
	ActionConfirmPayment     Action = "trip_request.confirm_payment"
	ActionSendNotification   Action = "notification.send"
	ActionBroadcast          Action = "notification.broadcast"
)

// Resource describes what an action is applied to.
type Resource struct {
	OwnerID int
	Status  fsm.Status
}

func TripRequestResource(req models.TripRequest) Resource {
	return Resource{OwnerID: req.UserID, Status: req.Status}
}

// Authorize returns nil when actor may perform action on res.
func Authorize(actor models.Actor, action Action, res Resource) error {
	if actor.System {
		if action == ActionConfirmPayment {
			return nil
		}
		return models.NewAuthorizationError("system actor cannot perform %s", action)
	}
	if actor.UserID == 0 {
		return &models.Error{Kind: models.KindUnauthenticated, Message: "authentication required"}
	}

	owner := res.OwnerID != 0 && res.OwnerID == actor.UserID

	switch action {
	case ActionCreateTripRequest:
		if actor.Role == models.RoleCustomer || actor.IsAdmin() {
			return nil
		}
	case ActionViewTripRequest, ActionCancelTripRequest, ActionPostMessage, ActionCreateBooking:
		if owner || actor.IsStaff() {
			return nil
		}
	case ActionEditTripRequest:
		if owner || actor.IsAdmin() {
			return nil
		}
	case ActionListTripRequests, ActionViewStats, ActionReviewTripRequest, ActionApproveTripRequest,
		ActionRejectTripRequest, ActionAssignTripRequest, ActionPostStaffNote:
		if actor.IsStaff() {
			return nil
		}
	case ActionDeleteTripRequest:
		if actor.IsAdmin() {
			return nil
		}
		if owner {
			switch res.Status {
			case fsm.StatusPending, fsm.StatusCancelled, fsm.StatusRejected:
				return nil
			}
			return models.NewAuthorizationError("owners can only delete pending, cancelled or rejected trip requests")
		}
	case ActionSendNotification, ActionBroadcast:
		if actor.IsAdmin() {
			return nil
		}
	case ActionConfirmPayment:
		return models.NewAuthorizationError("payment confirmation is reserved for the payment subsystem")
	}
	return models.NewAuthorizationError("%s is not allowed to perform %s", actor.Role, action)
}
