package services

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/fault"
	"github.com/paulexconde/fieldsurvey/pkg/store"
)

// AuditReport is the result of the rank integrity diagnostics.
type AuditReport struct {
	RankGaps       bool
	DuplicateRanks bool
}

func (r AuditReport) OK() bool { return !r.RankGaps && !r.DuplicateRanks }

// FormTreeService applies form design changes transactionally. Moves on the
// same form are serialized.
type FormTreeService struct {
	items  store.FormItemStore
	logger *zap.Logger

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func NewFormTreeService(items store.FormItemStore, logger *zap.Logger) *FormTreeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormTreeService{items: items, logger: logger, locks: make(map[int]*sync.Mutex)}
}

func (s *FormTreeService) lockForm(formID int) func() {
	s.mu.Lock()
	l, ok := s.locks[formID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[formID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Move reparents and reranks an item of formID (parentID 0 = root level).
// Changes are written and then audited across every form inside one
// transaction; a gap or duplicate rolls everything back.
func (s *FormTreeService) Move(ctx context.Context, scope Scope, formID, itemID, parentID, rank int) ([]models.FormItem, error) {
	unlock := s.lockForm(formID)
	defer unlock()

	var changed []models.FormItem
	err := s.items.WithinTx(ctx, func(tx store.FormItemTx) error {
		tree, err := s.loadTree(ctx, tx, scope, formID)
		if err != nil {
			return err
		}

		changed, err = tree.Move(itemID, parentID, rank)
		if err != nil {
			return err
		}
		if err := tx.UpdateItems(ctx, changed); err != nil {
			return err
		}

		return auditTx(ctx, tx)
	})
	if err != nil {
		s.logger.Warn("form item move rejected",
			zap.Int("form_id", formID),
			zap.Int("item_id", itemID),
			zap.Int("parent_id", parentID),
			zap.Int("rank", rank),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("form item moved",
		zap.Int("form_id", formID),
		zap.Int("item_id", itemID),
		zap.Int("changed", len(changed)))
	return changed, nil
}

// AddItem appends an item at the bottom of parentID (0 = root level).
func (s *FormTreeService) AddItem(ctx context.Context, scope Scope, formID, parentID int, item models.FormItem) (*models.FormItem, error) {
	unlock := s.lockForm(formID)
	defer unlock()

	err := s.items.WithinTx(ctx, func(tx store.FormItemTx) error {
		tree, err := s.loadTree(ctx, tx, scope, formID)
		if err != nil {
			return err
		}

		ancestry, rank, err := tree.NextSlot(parentID)
		if err != nil {
			return err
		}
		if item.Kind == models.KindQuestioning && item.QuestionID == nil {
			return fault.ValidationFailed(fault.Field("question", "is required"))
		}

		item.FormID = formID
		if scope.MissionID != 0 {
			item.MissionID = scope.MissionID
		}
		item.Ancestry = ancestry
		item.Rank = rank
		return tx.InsertItem(ctx, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SortedLeaves returns the questioning items under itemID (0 = whole form).
func (s *FormTreeService) SortedLeaves(ctx context.Context, formID, itemID int) ([]models.FormItem, error) {
	items, err := s.items.LoadItems(ctx, formID)
	if err != nil {
		return nil, err
	}
	tree, err := NewFormTree(items)
	if err != nil {
		return nil, err
	}
	return tree.SortedLeaves(itemID)
}

// Outline returns the items of formID depth first.
func (s *FormTreeService) Outline(ctx context.Context, formID int) ([]models.FormItem, error) {
	items, err := s.items.LoadItems(ctx, formID)
	if err != nil {
		return nil, err
	}
	tree, err := NewFormTree(items)
	if err != nil {
		return nil, err
	}
	return tree.Outline(), nil
}

// Audit runs the rank integrity diagnostics over every form.
func (s *FormTreeService) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	var err error

	if report.RankGaps, err = s.items.RankGaps(ctx); err != nil {
		return report, err
	}
	if report.DuplicateRanks, err = s.items.DuplicateRanks(ctx); err != nil {
		return report, err
	}
	return report, nil
}

func (s *FormTreeService) loadTree(ctx context.Context, tx store.FormItemTx, scope Scope, formID int) (*FormTree, error) {
	mission, err := tx.FormMission(ctx, formID)
	if errors.Is(err, fault.ErrNotFound) || (err == nil && scope.MissionID != 0 && mission != scope.MissionID) {
		return nil, fault.UnknownForm(formID)
	}
	if err != nil {
		return nil, err
	}

	items, err := tx.LoadItems(ctx, formID)
	if err != nil {
		return nil, err
	}
	return NewFormTree(items)
}

func auditTx(ctx context.Context, tx store.FormItemTx) error {
	gaps, err := tx.RankGaps(ctx)
	if err != nil {
		return err
	}
	if gaps {
		return fault.RankIntegrityViolation(fault.InvariantGap)
	}

	dups, err := tx.DuplicateRanks(ctx)
	if err != nil {
		return err
	}
	if dups {
		return fault.RankIntegrityViolation(fault.InvariantDuplicate)
	}
	return nil
}
