package sqlite

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
)

const seedActor = "seed"

type seedProduct struct {
	product catalog.Product
	lots    []int
}

var demoUsers = []catalog.User{
	{ID: "admin", Email: "admin@storefront.local", FullName: "Store Admin", Role: catalog.RoleAdmin},
	{ID: "u-1", Email: "lan@storefront.local", FullName: "Nguyen Thi Lan", Role: catalog.RoleCustomer},
	{ID: "u-2", Email: "minh@storefront.local", FullName: "Tran Van Minh", Role: catalog.RoleCustomer},
}

var demoProducts = []seedProduct{
	{catalog.Product{ID: "p-1", Name: "Oolong Tea 200g", Price: decimal.NewFromInt(150000), ImageURL: "/img/oolong.jpg"}, []int{3, 5}},
	{catalog.Product{ID: "p-2", Name: "Ceramic Cup", Price: decimal.NewFromInt(85000), ImageURL: "/img/cup.jpg"}, []int{10}},
	{catalog.Product{ID: "p-3", Name: "Bamboo Tray", Price: decimal.NewFromInt(320000)}, []int{2}},
}

// SeedDemo loads a small catalog with stock for local runs. Lots are only created for products
// that have none, so reseeding does not inflate stock.
func (s *Store) SeedDemo(ctx context.Context) error {
	return s.inTx(ctx, func(tx querier) error {
		cat := &CatalogRepository{q: tx}
		lots := &LotRepository{q: tx}
		for _, u := range demoUsers {
			if err := cat.UpsertUser(ctx, u); err != nil {
				return err
			}
		}
		for _, sp := range demoProducts {
			if err := cat.UpsertProduct(ctx, sp.product); err != nil {
				return err
			}
			existing, err := lots.LotsForProduct(ctx, sp.product.ID)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				continue
			}
			for _, stock := range sp.lots {
				if _, err := lots.Create(ctx, sp.product.ID, stock, seedActor); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
