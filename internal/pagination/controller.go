// Package pagination drives page navigation from server pagination metadata.
package pagination

import (
	"fmt"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
)

// PageSetter is satisfied by *filter.Holder.
type PageSetter interface {
	Get() domain.Filter
	SetPage(page int) error
}

// MetaSource returns the metadata of the last applied listing response, or
// nil when there is none.
type MetaSource func() *domain.Pagination

type Controller struct {
	holder PageSetter
	meta   MetaSource
}

func New(holder PageSetter, meta MetaSource) *Controller {
	return &Controller{holder: holder, meta: meta}
}

func (c *Controller) CanNext() bool {
	m := c.meta()
	return m != nil && m.HasNextPage
}

func (c *Controller) CanPrev() bool {
	m := c.meta()
	return m != nil && m.HasPrevPage
}

// GoToPage is a no-op for p < 1.
func (c *Controller) GoToPage(p int) error {
	if p < 1 {
		return nil
	}
	return c.holder.SetPage(p)
}

// Next reports whether it moved.
func (c *Controller) Next() (bool, error) {
	if !c.CanNext() {
		return false, nil
	}
	return true, c.GoToPage(c.holder.Get().Page + 1)
}

func (c *Controller) Prev() (bool, error) {
	if !c.CanPrev() {
		return false, nil
	}
	return true, c.GoToPage(c.holder.Get().Page - 1)
}

// Label renders "Page X of Y", or "" before the first response.
func (c *Controller) Label() string {
	m := c.meta()
	if m == nil {
		return ""
	}
	return fmt.Sprintf("Page %d of %d", m.CurrentPage, m.TotalPages)
}
