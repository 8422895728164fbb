package models

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Listing is one vehicle listing, deduplicated across every ingestion
// channel by its canonical URL.
type Listing struct {
	// Identity
	ID           string `gorm:"type:varchar(32);primaryKey" json:"id"`
	CanonicalURL string `gorm:"type:varchar(500);not null;uniqueIndex" json:"canonical_url"`
	Title        string `gorm:"type:text;not null" json:"title"`
	Make         string `gorm:"type:varchar(50);index" json:"make,omitempty"`
	Model        string `gorm:"type:varchar(100)" json:"model,omitempty"`

	// Extracted attributes; nil means the field was not found in the markup
	Price   *float64 `gorm:"type:decimal(12,2);index" json:"price,omitempty"`
	Mileage *float64 `gorm:"type:decimal(12,2)" json:"mileage,omitempty"`
	Year    *int     `gorm:"type:int;index" json:"year,omitempty"`

	// Raw capture
	PriceText   string `gorm:"type:varchar(100)" json:"price_text,omitempty"`
	DetailsText string `gorm:"type:text" json:"details_text,omitempty"`
	ImageURL    string `gorm:"type:text" json:"image_url,omitempty"`
	Source      string `gorm:"type:varchar(30);not null;index" json:"source"`
	ScrapedAt   string `gorm:"type:varchar(40)" json:"scraped_at,omitempty"`

	// Computed downstream; once set, re-ingestion never overwrites them
	EstimatedValue     *float64 `gorm:"type:decimal(12,2)" json:"estimated_value,omitempty"`
	SuggestedOffer     *float64 `gorm:"type:decimal(12,2)" json:"suggested_offer,omitempty"`
	DiscountPercentage *float64 `gorm:"type:decimal(5,2);index" json:"discount_percentage,omitempty"`

	// Outreach state
	Contacted   bool       `gorm:"not null;default:false;index" json:"contacted"`
	Visited     bool       `gorm:"not null;default:false" json:"visited"`
	ContactDate *time.Time `gorm:"type:datetime" json:"contact_date,omitempty"`

	// Timestamps
	CreatedAt time.Time `gorm:"type:datetime;not null;autoCreateTime;index:idx_listings_created_at,sort:desc" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:datetime;not null;autoUpdateTime" json:"updated_at"`
}

// Ingestion channel identifiers stored in Listing.Source.
const (
	SourceEmail    = "email"
	SourceGmailAPI = "gmail_api"
	SourceFile     = "file"
	SourceWeb      = "web"
)

// TableName specifies the table name
func (Listing) TableName() string {
	return "listings"
}

// ListingID derives the stable internal ID from the canonical URL.
// This ensures consistent ID generation across the application.
func ListingID(canonicalURL string) string {
	hash := md5.Sum([]byte(canonicalURL))
	return hex.EncodeToString(hash[:])
}

// HasEstimate reports whether a valuation has been recorded.
func (l *Listing) HasEstimate() bool {
	return l.EstimatedValue != nil
}

// HasOffer reports whether an offer has been computed.
func (l *Listing) HasOffer() bool {
	return l.SuggestedOffer != nil
}

// MarkContacted flips the outreach flag and stamps the contact date.
func (l *Listing) MarkContacted() {
	l.Contacted = true
	now := time.Now()
	l.ContactDate = &now
}
