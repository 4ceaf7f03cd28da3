package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	OfferID       snowflake.ID `json:"offer_id"`
	BuyerID       snowflake.ID `json:"buyer_id"`
	Source        string       `json:"source"`
	CampaignLabel string       `json:"campaign_label"`
	ActorName     string       `json:"actor_name"`
}

type RemoveRequest struct {
	AssignmentID  snowflake.ID `json:"assignment_id"`
	ActorName     string       `json:"actor_name"`
	Reason        string       `json:"reason,omitempty"`
	ReasonDetails string       `json:"reason_details,omitempty"`
}

// RemoveOutcome distinguishes the two terminal removal writes.
type RemoveOutcome string

const (
	OutcomeArchived RemoveOutcome = "archived"
	OutcomeHidden   RemoveOutcome = "hidden"
)

type RemoveResult struct {
	Outcome   RemoveOutcome `json:"outcome"`
	TotalCost float64       `json:"total_cost"`
	Early     bool          `json:"early"`
}

type RestoreRequest struct {
	AssignmentID snowflake.ID `json:"assignment_id"`
	ActorName    string       `json:"actor_name"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Assignment, error)
	Remove(ctx context.Context, req RemoveRequest) (RemoveResult, error)
	Restore(ctx context.Context, req RestoreRequest) (*Assignment, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Assignment, error)
	ListVisible(ctx context.Context, offerID snowflake.ID) ([]Assignment, error)
	ListArchived(ctx context.Context, offerID snowflake.ID) ([]Assignment, error)
	History(ctx context.Context, assignmentID snowflake.ID) ([]HistoryEntry, error)
}

var (
	ErrAssignmentNotFound    = errors.New("assignment_not_found")
	ErrAlreadyAssigned       = errors.New("assignment_already_exists")
	ErrAlreadyArchived       = errors.New("assignment_already_archived")
	ErrAlreadyHidden         = errors.New("assignment_already_hidden")
	ErrNotArchived           = errors.New("assignment_not_archived")
	ErrInvalidOffer          = errors.New("invalid_offer")
	ErrInvalidBuyer          = errors.New("invalid_buyer")
	ErrInvalidSource         = errors.New("invalid_source")
	ErrInvalidActor          = errors.New("invalid_actor")
	ErrInvalidCampaignLabel  = errors.New("invalid_campaign_label")
	ErrReasonRequired        = errors.New("removal_reason_required")
	ErrInvalidReason         = errors.New("invalid_removal_reason")
	ErrReasonDetailsRequired = errors.New("removal_reason_details_required")
)
