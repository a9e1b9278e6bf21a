package coordination

import (
	"time"

	"github.com/Iron-Ham/autostore/internal/config"
	"github.com/Iron-Ham/autostore/internal/grid"
	"github.com/Iron-Ham/autostore/internal/model"
)

// Layout converts the configured layout into the records provisioned in
// the store: idle bots on their parking cells, available bins on their
// home cells and the product catalog.
func Layout(cfg *config.Config) ([]model.Bot, []model.Bin, []model.Product) {
	now := time.Now()

	bots := make([]model.Bot, 0, len(cfg.Layout.Bots))
	for _, b := range cfg.Layout.Bots {
		bots = append(bots, model.Bot{
			ID:        b.ID,
			Name:      b.Name,
			X:         b.X,
			Y:         b.Y,
			Status:    model.BotIdle,
			Parking:   grid.P(b.X, b.Y),
			UpdatedAt: now,
		})
	}

	bins := make([]model.Bin, 0, len(cfg.Layout.Bins))
	var products []model.Product
	for _, b := range cfg.Layout.Bins {
		bins = append(bins, model.Bin{
			ID:        b.ID,
			X:         b.X,
			Y:         b.Y,
			Z:         b.Z,
			Status:    model.BinAvailable,
			Home:      grid.P(b.X, b.Y),
			HomeZ:     b.Z,
			UpdatedAt: now,
		})
		for _, p := range b.Products {
			products = append(products, model.Product{SKU: p.SKU, Name: p.Name, BinID: b.ID})
		}
	}
	return bots, bins, products
}
