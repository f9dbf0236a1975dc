package option

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type Sort struct {
	Column string
	Desc   bool
}

// WithQuerySortBy resolves user-supplied sort parameters against an allow list.
// Unknown columns fall back to created_at; unknown directions fall back to desc.
func WithQuerySortBy(sortBy, orderBy string, allowed map[string]bool) Sort {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if column == "" || !allowed[column] {
		column = "created_at"
	}
	desc := !strings.EqualFold(strings.TrimSpace(orderBy), "asc")
	return Sort{Column: column, Desc: desc}
}

type sortOption struct {
	sort Sort
}

func WithSortBy(sort Sort) QueryOption {
	return sortOption{sort: sort}
}

func (o sortOption) Apply(db *gorm.DB) *gorm.DB {
	if strings.TrimSpace(o.sort.Column) == "" {
		return db
	}
	return db.Order(clause.OrderByColumn{
		Column: clause.Column{Name: o.sort.Column},
		Desc:   o.sort.Desc,
	}).Order(clause.OrderByColumn{
		Column: clause.Column{Name: "id"},
		Desc:   o.sort.Desc,
	})
}
