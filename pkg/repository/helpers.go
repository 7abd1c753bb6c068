package repository

import (
	"cmp"
	"slices"

	"github.com/example/storefront/pkg/models"
)

func distinctCategories(products []models.Product) []string {
	seen := make(map[string]struct{})
	cats := make([]string, 0)
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		cats = append(cats, p.Category)
	}
	slices.Sort(cats)
	return cats
}

func sortNewestFirst(orders []models.Order) {
	slices.SortStableFunc(orders, func(a, b models.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
