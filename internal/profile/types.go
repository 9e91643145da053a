// Package profile persists the shopper's checkout details.
package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ent0n29/voicecart/internal/extract"
)

var ErrNotFound = errors.New("profile not found")

// Profile holds validated checkout details for one user. Values are stored
// as handed over; the store performs no validation of its own.
type Profile struct {
	UserID     string    `json:"user_id" toml:"user_id"`
	Name       string    `json:"name,omitempty" toml:"name,omitempty"`
	Email      string    `json:"email,omitempty" toml:"email,omitempty"`
	Address    string    `json:"address,omitempty" toml:"address,omitempty"`
	Phone      string    `json:"phone,omitempty" toml:"phone,omitempty"`
	CardName   string    `json:"card_name,omitempty" toml:"card_name,omitempty"`
	CardNumber string    `json:"card_number,omitempty" toml:"card_number,omitempty"`
	ExpiryDate string    `json:"expiry_date,omitempty" toml:"expiry_date,omitempty"`
	CVV        string    `json:"cvv,omitempty" toml:"cvv,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" toml:"updated_at"`
}

// Store persists profiles.
type Store interface {
	Get(ctx context.Context, userID string) (Profile, error)
	// Update merges the non-empty values of partial and returns the result.
	Update(ctx context.Context, userID string, partial map[extract.Field]string) (Profile, error)
	Close() error
}

func (p *Profile) field(f extract.Field) *string {
	switch f {
	case extract.FieldName:
		return &p.Name
	case extract.FieldEmail:
		return &p.Email
	case extract.FieldAddress:
		return &p.Address
	case extract.FieldPhone:
		return &p.Phone
	case extract.FieldCardName:
		return &p.CardName
	case extract.FieldCardNumber:
		return &p.CardNumber
	case extract.FieldExpiryDate:
		return &p.ExpiryDate
	case extract.FieldCVV:
		return &p.CVV
	default:
		return nil
	}
}

// Value returns the stored value of f.
func (p Profile) Value(f extract.Field) string {
	if v := p.field(f); v != nil {
		return *v
	}
	return ""
}

// Apply merges the non-empty values of partial.
func (p *Profile) Apply(partial map[extract.Field]string) {
	for f, v := range partial {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if dst := p.field(f); dst != nil {
			*dst = v
		}
	}
}

// Values returns every non-empty field.
func (p Profile) Values() map[extract.Field]string {
	out := make(map[extract.Field]string, len(extract.Fields))
	for _, f := range extract.Fields {
		if v := p.Value(f); v != "" {
			out[f] = v
		}
	}
	return out
}

// Missing lists the fields still empty, in collection order.
func (p Profile) Missing() []extract.Field {
	var out []extract.Field
	for _, f := range extract.Fields {
		if p.Value(f) == "" {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every checkout field is present.
func (p Profile) Complete() bool { return len(p.Missing()) == 0 }

// Masked hides payment details for display.
func (p Profile) Masked() Profile {
	out := p
	if digits := strings.ReplaceAll(p.CardNumber, " ", ""); len(digits) >= 4 {
		out.CardNumber = "**** " + digits[len(digits)-4:]
	} else if p.CardNumber != "" {
		out.CardNumber = "****"
	}
	if p.CVV != "" {
		out.CVV = "***"
	}
	return out
}

// FieldWriter writes single fields of one user's profile as they are collected.
type FieldWriter struct {
	Store  Store
	UserID string
}

func (w FieldWriter) WriteField(ctx context.Context, field extract.Field, value string) error {
	_, err := w.Store.Update(ctx, w.UserID, map[extract.Field]string{field: value})
	return err
}
