package models

// All returns every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Wallet{},
		&WalletTransaction{},
		&PaymentTransaction{},
		&Order{},
		&AuctionListing{},
	}
}
