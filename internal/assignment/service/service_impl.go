package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adlift/trafficdesk/internal/access"
	"github.com/adlift/trafficdesk/internal/activity"
	assignmentdomain "github.com/adlift/trafficdesk/internal/assignment/domain"
	channeldomain "github.com/adlift/trafficdesk/internal/channel/domain"
	"github.com/adlift/trafficdesk/internal/clock"
	"github.com/adlift/trafficdesk/internal/config"
	obsmetrics "github.com/adlift/trafficdesk/internal/observability/metrics"
	spenddomain "github.com/adlift/trafficdesk/internal/spend/domain"
	"github.com/adlift/trafficdesk/pkg/db"
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Ops         *config.OpsConfigHolder
	Repo        assignmentdomain.Repository
	ChannelRepo channeldomain.Repository
	Resolver    *access.Resolver
	SpendStore  spenddomain.Store
}

// Service is the only writer of assignment state. Every transition runs
// here so the visible-active / visible-archived / hidden invariant can
// not be broken by a stray update.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	ops         *config.OpsConfigHolder
	repo        assignmentdomain.Repository
	channelRepo channeldomain.Repository
	resolver    *access.Resolver
	spendStore  spenddomain.Store
}

func NewService(p ServiceParam) assignmentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("assignment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		ops:         p.Ops,
		repo:        p.Repo,
		channelRepo: p.ChannelRepo,
		resolver:    p.Resolver,
		spendStore:  p.SpendStore,
	}
}

func (s *Service) Create(ctx context.Context, req assignmentdomain.CreateRequest) (*assignmentdomain.Assignment, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	assignment := &assignmentdomain.Assignment{
		ID:            s.genID.Generate(),
		OfferID:       req.OfferID,
		BuyerID:       req.BuyerID,
		Source:        req.Source,
		CampaignLabel: strings.TrimSpace(req.CampaignLabel),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// One live row per (offer, buyer, source). The partial unique
		// index backs this on postgres; the check covers dialects
		// without it and gives the caller a domain error either way.
		live, err := s.repo.FindLiveByKey(ctx, tx, req.OfferID, req.BuyerID, req.Source)
		if err != nil {
			return err
		}
		if live != nil {
			return assignmentdomain.ErrAlreadyAssigned
		}

		// A fresh assignment supersedes a previously archived one for
		// the same (offer, buyer, source); the old row leaves every
		// list but stays on disk for audit.
		prior, err := s.repo.FindArchivedByKey(ctx, tx, req.OfferID, req.BuyerID, req.Source)
		if err != nil {
			return err
		}
		if prior != nil {
			if _, err := s.repo.MarkHidden(ctx, tx, prior.ID, now); err != nil {
				return err
			}
		}

		if err := s.repo.Insert(ctx, tx, assignment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return assignmentdomain.ErrAlreadyAssigned
			}
			return err
		}
		return s.repo.AppendHistory(ctx, tx, &assignmentdomain.HistoryEntry{
			ID:           s.genID.Generate(),
			AssignmentID: assignment.ID,
			Action:       assignmentdomain.HistoryAssigned,
			ActorName:    req.ActorName,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("assignment created",
		zap.String("assignment_id", assignment.ID.String()),
		zap.String("offer_id", req.OfferID.String()),
		zap.String("buyer_id", req.BuyerID.String()),
		zap.String("source", req.Source),
	)
	return assignment, nil
}

// Remove commits a removal request. The early branch (inside the grace
// period) skips reason validation entirely; the late branch refuses to
// touch state until a valid reason is present. The archive-or-hide
// decision always comes from in-window spend, never from the branch.
func (s *Service) Remove(ctx context.Context, req assignmentdomain.RemoveRequest) (assignmentdomain.RemoveResult, error) {
	var result assignmentdomain.RemoveResult

	if strings.TrimSpace(req.ActorName) == "" {
		return result, assignmentdomain.ErrInvalidActor
	}

	assignment, err := s.repo.FindByID(ctx, s.db, req.AssignmentID)
	if err != nil {
		return result, err
	}
	if assignment == nil {
		return result, assignmentdomain.ErrAssignmentNotFound
	}
	if assignment.Hidden {
		return result, assignmentdomain.ErrAlreadyHidden
	}
	if assignment.Archived {
		return result, assignmentdomain.ErrAlreadyArchived
	}

	now := s.clock.Now()
	early := now.Sub(assignment.CreatedAt) < s.ops.Get().EarlyRemovalPeriod
	result.Early = early

	var reason, details *string
	if !early {
		reason, details, err = validateReason(req.Reason, req.ReasonDetails)
		if err != nil {
			return result, err
		}
	}

	summary, err := s.checkSpend(ctx, assignment)
	if err != nil {
		return result, err
	}
	result.TotalCost = summary.TotalCost

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if summary.HasSpend {
			updated, err := s.repo.MarkArchived(ctx, tx, assignment.ID, now)
			if err != nil {
				return err
			}
			if !updated {
				return s.terminalStateError(ctx, tx, assignment.ID)
			}
			result.Outcome = assignmentdomain.OutcomeArchived
			return s.repo.AppendHistory(ctx, tx, &assignmentdomain.HistoryEntry{
				ID:            s.genID.Generate(),
				AssignmentID:  assignment.ID,
				Action:        assignmentdomain.HistoryArchived,
				ActorName:     req.ActorName,
				Reason:        reason,
				ReasonDetails: details,
				Metadata:      datatypes.JSONMap{"total_cost": summary.TotalCost},
				CreatedAt:     now,
			})
		}

		updated, err := s.repo.MarkHidden(ctx, tx, assignment.ID, now)
		if err != nil {
			return err
		}
		if !updated {
			return s.terminalStateError(ctx, tx, assignment.ID)
		}
		result.Outcome = assignmentdomain.OutcomeHidden
		return s.repo.AppendHistory(ctx, tx, &assignmentdomain.HistoryEntry{
			ID:            s.genID.Generate(),
			AssignmentID:  assignment.ID,
			Action:        assignmentdomain.HistoryRemoved,
			ActorName:     req.ActorName,
			Reason:        reason,
			ReasonDetails: details,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return assignmentdomain.RemoveResult{}, err
	}

	obsmetrics.Engine().IncRemoval(string(result.Outcome), early)
	s.log.Info("assignment removed",
		zap.String("assignment_id", assignment.ID.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.Bool("early", early),
		zap.Float64("total_cost", summary.TotalCost),
	)
	return result, nil
}

func (s *Service) Restore(ctx context.Context, req assignmentdomain.RestoreRequest) (*assignmentdomain.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, s.db, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignmentdomain.ErrAssignmentNotFound
	}
	if !assignment.Archived || assignment.Hidden {
		return nil, assignmentdomain.ErrNotArchived
	}

	return s.Create(ctx, assignmentdomain.CreateRequest{
		OfferID:       assignment.OfferID,
		BuyerID:       assignment.BuyerID,
		Source:        assignment.Source,
		CampaignLabel: assignment.CampaignLabel,
		ActorName:     req.ActorName,
	})
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*assignmentdomain.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignmentdomain.ErrAssignmentNotFound
	}
	return assignment, nil
}

func (s *Service) ListVisible(ctx context.Context, offerID snowflake.ID) ([]assignmentdomain.Assignment, error) {
	return s.repo.ListVisible(ctx, s.db, offerID)
}

func (s *Service) ListArchived(ctx context.Context, offerID snowflake.ID) ([]assignmentdomain.Assignment, error) {
	return s.repo.ListArchived(ctx, s.db, offerID)
}

func (s *Service) History(ctx context.Context, assignmentID snowflake.ID) ([]assignmentdomain.HistoryEntry, error) {
	return s.repo.ListHistory(ctx, s.db, assignmentID)
}

func (s *Service) checkSpend(ctx context.Context, assignment *assignmentdomain.Assignment) (activity.SpendSummary, error) {
	channels, err := s.channelRepo.ListByBuyer(ctx, s.db, assignment.BuyerID)
	if err != nil {
		return activity.SpendSummary{}, err
	}
	windows := s.resolver.Resolve(assignment.BuyerID, assignment.Source, channels)
	if len(windows) == 0 {
		return activity.SpendSummary{}, nil
	}

	channelIDs := make([]string, 0, len(windows))
	for id := range windows {
		channelIDs = append(channelIDs, id)
	}
	series, err := s.spendStore.FetchSeries(ctx, assignment.ArticleKey(), channelIDs)
	if err != nil {
		return activity.SpendSummary{}, err
	}
	return activity.CheckSpend(series, windows), nil
}

// terminalStateError resolves which invariant was violated when the
// guarded update hit zero rows: a concurrent commit won the race.
func (s *Service) terminalStateError(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	current, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return err
	}
	if current != nil && current.Hidden {
		return assignmentdomain.ErrAlreadyHidden
	}
	return assignmentdomain.ErrAlreadyArchived
}

func validateCreate(req assignmentdomain.CreateRequest) error {
	if req.OfferID == 0 {
		return assignmentdomain.ErrInvalidOffer
	}
	if req.BuyerID == 0 {
		return assignmentdomain.ErrInvalidBuyer
	}
	if strings.TrimSpace(req.Source) == "" {
		return assignmentdomain.ErrInvalidSource
	}
	if strings.TrimSpace(req.ActorName) == "" {
		return assignmentdomain.ErrInvalidActor
	}
	dummy := assignmentdomain.Assignment{CampaignLabel: req.CampaignLabel}
	if dummy.ArticleKey() == "" {
		return assignmentdomain.ErrInvalidCampaignLabel
	}
	return nil
}

func validateReason(reason, details string) (*string, *string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, nil, assignmentdomain.ErrReasonRequired
	}
	switch reason {
	case assignmentdomain.ReasonChangedMind, assignmentdomain.ReasonMisclick:
		return &reason, nil, nil
	case assignmentdomain.ReasonOther:
		details = strings.TrimSpace(details)
		if details == "" {
			return nil, nil, assignmentdomain.ErrReasonDetailsRequired
		}
		return &reason, &details, nil
	default:
		return nil, nil, assignmentdomain.ErrInvalidReason
	}
}
