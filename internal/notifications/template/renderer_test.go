package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"duepoint/internal/types"
)

func TestRender_SubstitutesKnownTokens(t *testing.T) {
	data := Data{
		CustomerName: "Ana",
		DueDate:      time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}

	got := Render("Olá {{customer_name}}, vence em {{due_date}}", data)
	assert.Equal(t, "Olá Ana, vence em 10/03/2024", got)
}

func TestRender_AllTokens(t *testing.T) {
	data := Data{
		CustomerName:    "Ana Silva",
		DueDate:         time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		PlanName:        "Plano Mensal",
		AmountCents:     4990,
		PixKey:          "chave@exemplo.com",
		SubscriberName:  "Ana Silva",
		SubscriberEmail: "ana@exemplo.com",
		NextBillingDate: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
	}

	content := "{{customer_name}}|{{due_date}}|{{plan_name}}|{{value}}|{{pix_key}}|{{subscriber_name}}|{{subscriber_email}}|{{next_billing_date}}"
	got := Render(content, data)
	assert.Equal(t, "Ana Silva|10/03/2026|Plano Mensal|R$ 49,90|chave@exemplo.com|Ana Silva|ana@exemplo.com|10/04/2026", got)
}

func TestRender_UnknownTokenPassesThrough(t *testing.T) {
	got := Render("Oi {{customer_name}}, {{typo_token}}!", Data{CustomerName: "Bruno"})
	assert.Equal(t, "Oi Bruno, {{typo_token}}!", got)
}

func TestRender_EmptyContent(t *testing.T) {
	assert.Equal(t, "", Render("", Data{}))
}

func TestRender_RepeatedToken(t *testing.T) {
	got := Render("{{customer_name}} e {{customer_name}}", Data{CustomerName: "Ana"})
	assert.Equal(t, "Ana e Ana", got)
}

func TestDataFor_AliasesNameAndDueDate(t *testing.T) {
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	target := &types.Target{
		Name:        "Carla",
		Email:       "carla@exemplo.com",
		PlanName:    "Anual",
		AmountCents: 120000,
		DueDate:     due,
	}
	account := &types.Account{PixKey: "pix-key"}

	data := DataFor(target, account)
	assert.Equal(t, "Carla", data.CustomerName)
	assert.Equal(t, "Carla", data.SubscriberName)
	assert.Equal(t, due, data.DueDate)
	assert.Equal(t, due, data.NextBillingDate)
	assert.Equal(t, "pix-key", data.PixKey)
	assert.Equal(t, "carla@exemplo.com", data.SubscriberEmail)
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "05/01/2026", FormatDate(time.Date(2026, 1, 5, 12, 30, 0, 0, time.UTC)))
	assert.Equal(t, "", FormatDate(time.Time{}))
}

func TestFormatBRL(t *testing.T) {
	tests := []struct {
		name  string
		cents int64
		want  string
	}{
		{"zero", 0, "R$ 0,00"},
		{"cents only", 5, "R$ 0,05"},
		{"common price", 4990, "R$ 49,90"},
		{"round value", 10000, "R$ 100,00"},
		{"thousands", 123456, "R$ 1.234,56"},
		{"millions", 123456789, "R$ 1.234.567,89"},
		{"negative", -4990, "R$ -49,90"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBRL(tt.cents))
		})
	}
}

func TestSampleData_RendersPreview(t *testing.T) {
	got := Render("{{customer_name}}: {{value}} até {{due_date}}", SampleData())
	assert.Equal(t, "Ana Silva: R$ 49,90 até 10/03/2026", got)
}
