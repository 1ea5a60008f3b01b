package domain

import "github.com/shopspring/decimal"

// Listing is a seller's offer for a product. The engine only reads it and
// decrements StockQuantity on checkout.
type Listing struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	SellerID      int64           `json:"seller_id"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockQuantity int             `json:"stock_quantity"`
}

type Product struct {
	ID         int64  `bson:"_id" json:"id"`
	CategoryID int64  `bson:"category_id" json:"category_id"`
	Name       string `bson:"name" json:"name"`
	Available  bool   `bson:"available" json:"available"`
}

type Category struct {
	ID   int64  `bson:"_id" json:"id"`
	Name string `bson:"name" json:"name"`
}
