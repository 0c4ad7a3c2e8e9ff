package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"lankatrips/internal/fsm"
	"lankatrips/internal/models"
)

// ApprovalEngine prices and approves, or rejects, reviewed trip requests.
type ApprovalEngine struct {
	Machine  *TripRequestStateMachine
	Notifier Notifier
	Logger   Logger
}

func NewApprovalEngine(machine *TripRequestStateMachine, notifier Notifier, logger Logger) *ApprovalEngine {
	return &ApprovalEngine{Machine: machine, Notifier: notifier, Logger: loggerOrNop(logger)}
}

type ApproveInput struct {
	ApprovedCost      string
	ApprovalNotes     string
	ApprovedItinerary string
}

// Outcome is a lifecycle result together with warnings about side effects
// that did not go through.
type Outcome struct {
	TripRequest models.TripRequest
	Warnings    []string
}

// ParseApprovedCost accepts a JSON number or a numeric string and returns it
// when it is finite and greater than zero.
func ParseApprovedCost(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.Trim(s, `"`))
	cost, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(cost) || math.IsInf(cost, 0) || cost <= 0 {
		return 0, models.NewInvalidApprovalCostError(raw)
	}
	return cost, nil
}

func (e *ApprovalEngine) Approve(ctx context.Context, actor models.Actor, id string, in ApproveInput) (Outcome, error) {
	cost, err := ParseApprovedCost(in.ApprovedCost)
	if err != nil {
		return Outcome{}, err
	}
	review := &models.Review{
		ApprovedCost:      cost,
		ApprovalNotes:     strings.TrimSpace(in.ApprovalNotes),
		ApprovedItinerary: strings.TrimSpace(in.ApprovedItinerary),
		ReviewedBy:        actor.UserID,
		ReviewedAt:        e.Machine.Now(),
	}

	req, err := e.Machine.Transition(ctx, id, TransitionInput{
		Actor:  actor,
		To:     fsm.StatusApproved,
		Note:   review.ApprovalNotes,
		Review: review,
	})
	if err != nil {
		return Outcome{}, err
	}

	currency := req.Budget.Currency
	warnings := notifyBestEffort(ctx, e.Notifier, e.Logger, NotifyInput{
		UserID:   req.UserID,
		Type:     models.NotificationTripRequest,
		Title:    "Trip request approved",
		Message:  truncate(fmt.Sprintf("Your trip request %q was approved for %s %s.", req.Title, formatAmount(cost), currency), models.MaxNotificationMessage),
		Priority: models.PriorityHigh,
		Data: encodeData(map[string]interface{}{
			"tripRequestId": req.ID,
			"status":        req.Status,
			"approvedCost":  cost,
			"currency":      currency,
		}),
	})
	return Outcome{TripRequest: req, Warnings: warnings}, nil
}

func (e *ApprovalEngine) Reject(ctx context.Context, actor models.Actor, id, reason string) (Outcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Outcome{}, models.NewValidationError("reason", "a rejection reason is required")
	}

	req, err := e.Machine.Transition(ctx, id, TransitionInput{
		Actor:  actor,
		To:     fsm.StatusRejected,
		Reason: reason,
	})
	if err != nil {
		return Outcome{}, err
	}

	warnings := notifyBestEffort(ctx, e.Notifier, e.Logger, NotifyInput{
		UserID:   req.UserID,
		Type:     models.NotificationTripRequest,
		Title:    "Trip request rejected",
		Message:  truncate(fmt.Sprintf("Your trip request %q was rejected: %s", req.Title, reason), models.MaxNotificationMessage),
		Priority: models.PriorityMedium,
		Data: encodeData(map[string]interface{}{
			"tripRequestId": req.ID,
			"status":        req.Status,
			"reason":        reason,
		}),
	})
	return Outcome{TripRequest: req, Warnings: warnings}, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
