package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type PaginationMeta struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	HasMore     bool  `json:"has_more"`
}

// PaginatedResponse wraps one page of users or chat history.
type PaginatedResponse[T any] struct {
	Data []T            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

// pageParams reads page and limit from the query. Missing or malformed
// values fall back to page 1 and defaultLimit; limit is capped at maxLimit.
func pageParams(c *gin.Context, defaultLimit, maxLimit int) (page, limit int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	return page, min(limit, maxLimit)
}

// NewPaginatedResponse builds the envelope; nil data is sent as [].
func NewPaginatedResponse[T any](data []T, totalItems int64, page, limit int) PaginatedResponse[T] {
	limit = max(limit, 1)
	if data == nil {
		data = []T{}
	}
	pages := int((totalItems + int64(limit) - 1) / int64(limit))
	return PaginatedResponse[T]{
		Data: data,
		Meta: PaginationMeta{
			TotalItems:  totalItems,
			TotalPages:  pages,
			CurrentPage: page,
			PageSize:    limit,
			HasMore:     page < pages,
		},
	}
}

// Paginate counts the rows matched by db and loads the requested page of
// them as T.
func Paginate[T any](db *gorm.DB, page, limit int) (PaginatedResponse[T], error) {
	var total int64
	if err := db.Model(new(T)).Count(&total).Error; err != nil {
		return PaginatedResponse[T]{}, err
	}
	var rows []T
	if err := db.Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; err != nil {
		return PaginatedResponse[T]{}, err
	}
	return NewPaginatedResponse(rows, total, page, limit), nil
}

// mapPage converts the rows of a page and keeps its metadata.
func mapPage[T, U any](p PaginatedResponse[T], fn func(T) U) PaginatedResponse[U] {
	out := make([]U, 0, len(p.Data))
	for _, v := range p.Data {
		out = append(out, fn(v))
	}
	return PaginatedResponse[U]{Data: out, Meta: p.Meta}
}
