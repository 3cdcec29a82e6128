package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
	"github.com/karthikpasupathy/yearview/internal/registry"
	"github.com/karthikpasupathy/yearview/internal/repository"
)

// CategoryService manages a user's categories.
type CategoryService interface {
	// List returns the user's categories in creation order.
	List(ctx context.Context, userID string) ([]model.Category, error)
	// Create adds a category with a fresh id.
	Create(ctx context.Context, userID, name, color string) (model.Category, error)
	// Update renames or recolours a category.
	Update(ctx context.Context, userID, id, name, color string) (model.Category, error)
	// Delete removes a category and its events, returning the event count.
	Delete(ctx context.Context, userID, id string) (int, error)
}

type CategoryServiceImpl struct {
	base
	repo     repository.CategoryRepository
	reserved registry.Reserved
}

// NewCategoryService constructs CategoryService. reserved names the import
// category, of which a user may own only one.
func NewCategoryService(repo repository.CategoryRepository, reserved registry.Reserved, opts ...Option) *CategoryServiceImpl {
	return &CategoryServiceImpl{base: newBase(opts), repo: repo, reserved: reserved}
}

// List implements CategoryService.
func (s *CategoryServiceImpl) List(ctx context.Context, userID string) ([]model.Category, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx, userID)
}

// Create implements CategoryService.
func (s *CategoryServiceImpl) Create(ctx context.Context, userID, name, color string) (model.Category, error) {
	if err := requireUser(userID); err != nil {
		return model.Category{}, err
	}
	name, err := validateName("name", name)
	if err != nil {
		return model.Category{}, err
	}
	if err := validateColor(color); err != nil {
		return model.Category{}, err
	}
	if err := s.checkReserved(ctx, userID, "", name); err != nil {
		return model.Category{}, err
	}

	c := model.Category{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Name:      name,
		Color:     color,
		UserID:    userID,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateCategory(ctx, c); err != nil {
		return model.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.log.Info("category created", zap.String("user_id", userID), zap.String("category_id", c.ID))
	return c, nil
}

// Update implements CategoryService.
func (s *CategoryServiceImpl) Update(ctx context.Context, userID, id, name, color string) (model.Category, error) {
	if err := requireUser(userID); err != nil {
		return model.Category{}, err
	}
	name, err := validateName("name", name)
	if err != nil {
		return model.Category{}, err
	}
	if err := validateColor(color); err != nil {
		return model.Category{}, err
	}
	cur, err := s.repo.GetCategory(ctx, userID, id)
	if err != nil {
		return model.Category{}, err
	}
	if err := s.checkReserved(ctx, userID, id, name); err != nil {
		return model.Category{}, err
	}

	cur.Name, cur.Color = name, color
	if err := s.repo.UpdateCategory(ctx, cur); err != nil {
		return model.Category{}, fmt.Errorf("update category: %w", err)
	}
	s.log.Info("category updated", zap.String("user_id", userID), zap.String("category_id", id))
	return cur, nil
}

// Delete implements CategoryService.
func (s *CategoryServiceImpl) Delete(ctx context.Context, userID, id string) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteCategory(ctx, userID, id)
	if err != nil {
		return 0, err
	}
	s.log.Info("category deleted",
		zap.String("user_id", userID), zap.String("category_id", id), zap.Int("events_deleted", n))
	return n, nil
}

// checkReserved keeps the import category name unique per user.
func (s *CategoryServiceImpl) checkReserved(ctx context.Context, userID, selfID, name string) error {
	if name != s.reserved.Name {
		return nil
	}
	cats, err := s.repo.ListCategories(ctx, userID)
	if err != nil {
		return err
	}
	if c, ok := s.reserved.Find(cats, userID); ok && c.ID != selfID {
		return fmt.Errorf("%w: category %q", errs.ErrAlreadyExists, name)
	}
	return nil
}
