package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"k8s.io/utils/clock"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/model"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/repository"
)

const allCategoriesKey = "all"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// CategoryService serves the category list. Categories change rarely, so the
// list is cached; vendor counts are never part of the cached value.
type CategoryService struct {
	store repository.Queries
	cache *ttlcache.Cache[string, []model.Category]
	clock clock.PassiveClock
}

// NewCategoryService constructs a CategoryService caching for ttl.
func NewCategoryService(store repository.Queries, ttl time.Duration, clk clock.PassiveClock) *CategoryService {
	return &CategoryService{
		store: store,
		cache: ttlcache.New(ttlcache.WithTTL[string, []model.Category](ttl)),
		clock: clk,
	}
}

// List returns all categories ordered by name.
func (s *CategoryService) List(ctx context.Context) ([]model.Category, error) {
	if item := s.cache.Get(allCategoriesKey); item != nil {
		return item.Value(), nil
	}
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	s.cache.Set(allCategoriesKey, categories, ttlcache.DefaultTTL)
	return categories, nil
}

// Get returns one category, consulting the store when the cached list
// does not know the id.
func (s *CategoryService) Get(ctx context.Context, id string) (*model.Category, error) {
	categories, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range categories {
		if categories[i].ID == id {
			c := categories[i]
			return &c, nil
		}
	}
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	s.cache.Delete(allCategoriesKey)
	return c, nil
}

// Create validates and stores a new category.
func (s *CategoryService) Create(ctx context.Context, req model.CreateCategoryRequest) (*model.Category, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if req.Name == "" {
		return nil, invalid("name", "is required")
	}
	if !slugPattern.MatchString(req.Slug) {
		return nil, invalid("slug", "must be lowercase letters, digits and single hyphens")
	}

	c := &model.Category{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Slug:      req.Slug,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.InsertCategory(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("slug", "already in use")
		}
		return nil, fmt.Errorf("create category: %w", err)
	}
	s.cache.Delete(allCategoriesKey)
	return c, nil
}

// requireCategory turns an unknown category id into a validation error.
func (s *CategoryService) requireCategory(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("category_id", "is required")
	}
	if _, err := s.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalid("category_id", "unknown category")
		}
		return err
	}
	return nil
}
