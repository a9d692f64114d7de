package flow

import (
	"github.com/farmaplex/wsp-bot-go/internal/domain"
)

// defaultRoutes maps resumable intents to their post-authentication targets.
// Fallback intents are absent on purpose: there is nothing to resume.
var defaultRoutes = map[domain.Intent]domain.StepID{
	domain.IntentDebtQuery: StepCheckDebt,
	domain.IntentInvoice:   StepSendInvoice,
	domain.IntentPay:       StepCreatePayment,
	domain.IntentRegister:  StepRegister,
	domain.IntentConfirm:   StepConfirmPayment,
}

// StaticRoutes implements port.IntentRoutes from configuration. Per-org
// overrides win over the defaults, so one deployment can serve several
// pharmacies with different flows.
type StaticRoutes struct {
	overrides map[string]map[domain.Intent]domain.StepID
}

// NewStaticRoutes builds the route table. The overrides are keyed by org id,
// then intent; step names must match the graph's step ids (the executor
// falls back to the entry step on an unknown id).
func NewStaticRoutes(overrides map[string]map[string]string) *StaticRoutes {
	r := &StaticRoutes{overrides: make(map[string]map[domain.Intent]domain.StepID)}
	for org, m := range overrides {
		byIntent := make(map[domain.Intent]domain.StepID, len(m))
		for intent, step := range m {
			byIntent[domain.Intent(intent)] = domain.StepID(step)
		}
		r.overrides[org] = byIntent
	}
	return r
}

// StepFor resolves the resume step for an intent within an org.
func (r *StaticRoutes) StepFor(orgID string, intent domain.Intent) (domain.StepID, bool) {
	if byIntent, ok := r.overrides[orgID]; ok {
		if step, ok := byIntent[intent]; ok {
			return step, true
		}
	}
	step, ok := defaultRoutes[intent]
	return step, ok
}
