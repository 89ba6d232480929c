package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

// ParseRole maps a role name onto one of the fixed roles, ignoring case.
func ParseRole(s string) (Role, bool) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, string(RoleUser)):
		return RoleUser, true
	case strings.EqualFold(s, string(RoleAdmin)):
		return RoleAdmin, true
	}
	return Role(s), false
}

type Session struct {
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// Valid reports whether a restored record is usable as an active session.
func (s *Session) Valid() bool {
	return s != nil && s.Email != "" && s.AccessToken != ""
}

// Allowed is the single capability check shared by routing and navigation.
// A nil session has no access. An empty required set admits any session;
// otherwise the session role must match one entry, case-insensitively, and
// must itself be one of the fixed roles.
func Allowed(s *Session, required []string) bool {
	if s == nil {
		return false
	}
	role, known := ParseRole(string(s.Role))
	if !known {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if strings.EqualFold(strings.TrimSpace(r), string(role)) {
			return true
		}
	}
	return false
}

type CartItem struct {
	ItemID    int64           `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"imageUrl,omitempty"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	Items []CartItem `json:"items"`
}

func (c Cart) Empty() bool { return len(c.Items) == 0 }

func (c Cart) Index(itemID int64) int {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// Quantity returns the quantity held for itemID, 0 when absent.
func (c Cart) Quantity(itemID int64) int {
	if i := c.Index(itemID); i >= 0 {
		return c.Items[i].Quantity
	}
	return 0
}

type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Total       decimal.Decimal `json:"total"`
}

// StoreEntry is one persisted key of the SQL-backed store.
type StoreEntry struct {
	Key       string    `gorm:"column:store_key;primaryKey;size:128" json:"key"`
	Value     []byte    `gorm:"not null"             json:"value"`
	UpdatedAt time.Time `gorm:"not null"             json:"updated_at"`
}

func (StoreEntry) TableName() string {
	return "store_entries"
}
