package items

import (
	"fmt"
	"time"

	"github.com/shenshouer/ai-api/internal/platform/timeutil"
)

// Item is a catalog entry.
type Item struct {
	ID         string        `json:"id"          doc:"Item identifier"        example:"item-001"`
	Name       string        `json:"name"        doc:"Display name"           example:"Item 001"`
	Category   string        `json:"category"    doc:"Catalog category"       example:"electronics"`
	PriceCents int64         `json:"price_cents" doc:"Unit price in cents"    example:"1999"`
	CreatedAt  timeutil.Time `json:"created_at"  doc:"Creation time (RFC 3339)"`
}

var categories = []string{"electronics", "tools", "accessories", "robotics", "power", "components"}

const catalogSize = 30

// catalog is a fixed, generated item list.
var catalog = func() []Item {
	out := make([]Item, 0, catalogSize)
	for i := 1; i <= catalogSize; i++ {
		out = append(out, Item{
			ID:         fmt.Sprintf("item-%03d", i),
			Name:       fmt.Sprintf("Item %03d", i),
			Category:   categories[(i-1)%len(categories)],
			PriceCents: int64(i) * 250,
			CreatedAt:  timeutil.Date(2024, time.January, i, 9, 0),
		})
	}
	return out
}()
