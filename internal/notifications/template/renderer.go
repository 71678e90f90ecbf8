// Package template renders message templates for outbound delivery.
//
// Substitution covers a fixed placeholder set; any other {{token}} passes
// through to the recipient verbatim, which keeps rendering total: a typo in a
// template produces an odd-looking message, never a failed delivery.
package template

import (
	"strconv"
	"strings"
	"time"

	"duepoint/internal/types"
)

// Supported placeholder tokens.
const (
	TokenCustomerName    = "{{customer_name}}"
	TokenDueDate         = "{{due_date}}"
	TokenPlanName        = "{{plan_name}}"
	TokenValue           = "{{value}}"
	TokenPixKey          = "{{pix_key}}"
	TokenSubscriberName  = "{{subscriber_name}}"
	TokenSubscriberEmail = "{{subscriber_email}}"
	TokenNextBillingDate = "{{next_billing_date}}"
)

// Data carries the values available to a template. Built from the target and
// its owning account at render time, so a delivery always reflects current
// data rather than values captured at scheduling time.
type Data struct {
	CustomerName    string
	DueDate         time.Time
	PlanName        string
	AmountCents     int64
	PixKey          string
	SubscriberName  string
	SubscriberEmail string
	NextBillingDate time.Time
}

// DataFor builds the render data for a target under its owning account.
// Client and subscriber audiences share the same value set; the name tokens
// alias the same field so either spelling works in any template.
func DataFor(target *types.Target, account *types.Account) Data {
	return Data{
		CustomerName:    target.Name,
		DueDate:         target.DueDate,
		PlanName:        target.PlanName,
		AmountCents:     target.AmountCents,
		PixKey:          account.PixKey,
		SubscriberName:  target.Name,
		SubscriberEmail: target.Email,
		NextBillingDate: target.DueDate,
	}
}

// SampleData returns fixed placeholder values for template previews.
func SampleData() Data {
	due := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	return Data{
		CustomerName:    "Ana Silva",
		DueDate:         due,
		PlanName:        "Plano Mensal",
		AmountCents:     4990,
		PixKey:          "chave-pix@exemplo.com",
		SubscriberName:  "Ana Silva",
		SubscriberEmail: "ana@exemplo.com",
		NextBillingDate: due,
	}
}

// Render substitutes the enumerated placeholders in content with the values
// from data. Dates are formatted dd/mm/yyyy and monetary values in Brazilian
// real notation ("R$ 49,90"). Unknown tokens are left untouched.
func Render(content string, data Data) string {
	replacer := strings.NewReplacer(
		TokenCustomerName, data.CustomerName,
		TokenDueDate, FormatDate(data.DueDate),
		TokenPlanName, data.PlanName,
		TokenValue, FormatBRL(data.AmountCents),
		TokenPixKey, data.PixKey,
		TokenSubscriberName, data.SubscriberName,
		TokenSubscriberEmail, data.SubscriberEmail,
		TokenNextBillingDate, FormatDate(data.NextBillingDate),
	)
	return replacer.Replace(content)
}

// FormatDate renders a date as dd/mm/yyyy. The zero time renders empty.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}

// FormatBRL renders cents as Brazilian currency: "R$ 1.234,56". Thousands
// are separated with dots and the decimal separator is a comma.
func FormatBRL(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}

	whole := cents / 100
	frac := cents % 100

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	b.WriteString("R$ ")
	if negative {
		b.WriteString("-")
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	b.WriteByte(',')
	if frac < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(frac, 10))
	return b.String()
}
