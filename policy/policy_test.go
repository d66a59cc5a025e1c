package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/overseer/model/task"
	"gopkg.in/yaml.v3"
)

func TestPolicy_Decide(t *testing.T) {
	tests := []struct {
		name   string
		policy *Policy
		intent string
		expect Decision
	}{
		{name: "nil asks", policy: nil, intent: "anything", expect: DecisionAsk},
		{name: "ask mode", policy: &Policy{Mode: ModeAsk}, intent: "reply", expect: DecisionAsk},
		{name: "auto without allow list", policy: &Policy{Mode: ModeAuto}, intent: "reply", expect: DecisionAuto},
		{name: "auto allowed intent", policy: &Policy{Mode: ModeAuto, AllowList: []string{"Appointment_Confirmation"}}, intent: "appointment_confirmation", expect: DecisionAuto},
		{name: "auto intent not allowed", policy: &Policy{Mode: ModeAuto, AllowList: []string{"appointment_confirmation"}}, intent: "pricing", expect: DecisionAsk},
		{name: "blocked intent", policy: &Policy{Mode: ModeAuto, BlockList: []string{"payment"}}, intent: "PAYMENT", expect: DecisionDeny},
		{name: "deny mode", policy: &Policy{Mode: ModeDeny}, intent: "reply", expect: DecisionDeny},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, tc.policy.Decide(tc.intent))
		})
	}
}

func TestTable_FromYAML(t *testing.T) {
	var configs map[string]*Config
	err := yaml.Unmarshal([]byte(`
WhatsApp:
  mode: AUTO
  allow: [appointment_confirmation]
twitter:
  mode: deny
`), &configs)
	assert.NoError(t, err)

	table := NewTable(configs)
	assert.Equal(t, DecisionAuto, table.Decide(task.CategoryWhatsApp, "appointment_confirmation"))
	assert.Equal(t, DecisionAsk, table.Decide(task.CategoryWhatsApp, "quote"))
	assert.Equal(t, DecisionDeny, table.Decide(task.CategoryTwitter, ""))
	assert.Equal(t, DecisionAsk, table.Decide(task.CategoryEmail, ""))
	assert.Equal(t, "auto", table.Configs()["whatsapp"].Mode)
}
