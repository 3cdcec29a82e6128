// Package registry locates or creates the category that receives events
// imported from an external calendar.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/karthikpasupathy/yearview/internal/errs"
	"github.com/karthikpasupathy/yearview/internal/model"
)

// Default name and color of the import category.
const (
	DefaultName  = "Google Calendar"
	DefaultColor = "#4285F4"
)

// Reserved identifies the import category by name among a user's categories.
type Reserved struct {
	Name  string
	Color string
}

// Default returns the reserved category with the built-in name and color.
func Default() Reserved {
	return Reserved{Name: DefaultName, Color: DefaultColor}
}

// CreateFunc persists a newly synthesized category.
type CreateFunc func(ctx context.Context, c model.Category) error

// Find returns the first of the user's categories whose name matches exactly.
func (r Reserved) Find(categories []model.Category, userID string) (model.Category, bool) {
	for _, c := range categories {
		if c.UserID == userID && c.Name == r.Name {
			return c, true
		}
	}
	return model.Category{}, false
}

// Ensure returns the id of the user's reserved category, creating it through
// create when absent. created reports whether a new category was persisted.
// The new category is not made visible here; callers decide that.
func (r Reserved) Ensure(ctx context.Context, categories []model.Category, userID string, now time.Time, create CreateFunc) (id string, created bool, err error) {
	if userID == "" {
		return "", false, errs.ErrNotAuthenticated
	}
	if c, ok := r.Find(categories, userID); ok {
		return c.ID, false, nil
	}

	c := model.Category{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Name:      r.Name,
		Color:     r.Color,
		UserID:    userID,
		CreatedAt: now,
	}
	if err := create(ctx, c); err != nil {
		return "", false, fmt.Errorf("create reserved category: %w", err)
	}
	return c.ID, true, nil
}
