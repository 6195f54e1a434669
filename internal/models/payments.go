package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one attempt to buy a tariff.
type Payment struct {
	ID         string        `db:"payment_id"`
	UserID     int64         `db:"user_id"`
	Amount     int           `db:"amount"` // rubles
	TariffCode string        `db:"tariff"`
	Status     PaymentStatus `db:"status"`
	GatewayID  string        `db:"gateway_id"` // "" until the gateway accepted it
	CreatedAt  time.Time     `db:"created_at"`
}

type Tariff struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Days     int    `json:"days"`
	Price    int    `json:"price"`
	OldPrice int    `json:"old_price"`
}

// Forever tariffs get an invite link without expiry.
func (t Tariff) Forever() bool {
	return t.Days >= 36500
}

// Grant is the input of the exactly-once entitlement write.
type Grant struct {
	PaymentID  string
	UserID     int64
	TariffCode string
	Days       int
	At         time.Time
}

type PromoCode struct {
	Code            string    `db:"code"`
	DiscountPercent int       `db:"discount_percent"`
	ValidHours      int       `db:"valid_hours"`
	Description     string    `db:"description"`
	CreatedAt       time.Time `db:"created_at"`
}

type FileType string

const (
	FilePhoto    FileType = "photo"
	FileDocument FileType = "document"
)

// Material is a catalog entry shown when a user starts a day.
type Material struct {
	ID          int64    `db:"id"`
	Category    Category `db:"category"`
	Day         int      `db:"day"`
	Variant     int      `db:"variant"`
	Title       string   `db:"title"`
	Description string   `db:"description"`
	FileID      string   `db:"file_id"`
	FileType    FileType `db:"file_type"`
}

// Stats is the admin funnel report.
type Stats struct {
	Users           int
	Started         int
	DaysCompleted   []int // index = day-1
	Finished        int
	CategoryChanged int
	Purchased       int
	PaidUsers       int
	Revenue         int
	Blocked         int
}

// Tariff tables. Finishers of the challenge are offered the funnel table.
const (
	TariffTableFunnel   = "funnel"
	TariffTableStandard = "standard"
)
