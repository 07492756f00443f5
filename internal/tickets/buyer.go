package tickets

import (
	"net/mail"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Buyer holds the ticket holder's contact details.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Normalize validates b and returns it with the phone in E.164 form. region is the
// default region for numbers written without a country code, e.g. "VN".
func (b Buyer) Normalize(region string) (Buyer, error) {
	out := Buyer{
		Name:  strings.TrimSpace(b.Name),
		Email: strings.TrimSpace(b.Email),
		Phone: strings.TrimSpace(b.Phone),
	}
	if out.Name == "" {
		return Buyer{}, buyerError("name", "required")
	}
	if out.Email == "" {
		return Buyer{}, buyerError("email", "required")
	}
	addr, err := mail.ParseAddress(out.Email)
	if err != nil || addr.Address != out.Email {
		return Buyer{}, buyerError("email", "not a valid address")
	}
	if out.Phone == "" {
		return Buyer{}, buyerError("phone", "required")
	}
	num, err := phonenumbers.Parse(out.Phone, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return Buyer{}, buyerError("phone", "not a valid phone number")
	}
	out.Phone = phonenumbers.Format(num, phonenumbers.E164)
	return out, nil
}
