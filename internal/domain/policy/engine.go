package policy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

// Engine evaluates invoices against a Policy. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the processing-time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an Engine using the wall clock unless overridden
func NewEngine(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type failure struct {
	check  entity.Check
	reason string
}

// Evaluate computes the routing decision for one invoice. It never fails: malformed
// input degrades to the most conservative outcome with an explanatory reason.
func (e *Engine) Evaluate(extraction *entity.ExtractionResult, opinion *entity.ComplianceOpinion, p *Policy) entity.RoutingDecision {
	now := e.now().UTC()
	if extraction == nil {
		extraction = &entity.ExtractionResult{}
	}

	if p == nil || len(p.TierBoundaries) == 0 {
		tier := entity.TierExecutive
		return entity.RoutingDecision{
			Outcome:      tier.PendingOutcome(),
			ApproverTier: &tier,
			Reason:       "no approval policy loaded; routed to executive approval",
			EvaluatedAt:  now,
		}
	}

	var failures []failure
	add := func(check entity.Check, reason string) {
		failures = append(failures, failure{check: check, reason: reason})
	}

	if reason, ok := checkIntegrity(opinion); !ok {
		add(entity.CheckOpinionIntegrity, reason)
	}
	if missing := missingFields(extraction, p); len(missing) > 0 {
		add(entity.CheckRequiredFields, "missing required fields: "+strings.Join(missing, ", "))
	}
	if kw := matchKeyword(opinion, p.DisallowedKeywords); kw != "" {
		add(entity.CheckDisallowedContent, fmt.Sprintf("disallowed keyword %q found in compliance opinion", kw))
	}
	if opinion != nil && opinion.Fault == "" && opinion.Decision == entity.OpinionDeclined {
		reason := "compliance opinion declined the invoice"
		if r := strings.TrimSpace(opinion.Reasoning); r != "" {
			reason += ": " + r
		}
		add(entity.CheckOpinionDecision, reason)
	}
	if extraction.InvoiceDate != nil {
		if age := ageInDays(*extraction.InvoiceDate, now); age > p.MaxInvoiceAgeDays {
			add(entity.CheckRecency, fmt.Sprintf("invoice is %d days old (max %d)", age, p.MaxInvoiceAgeDays))
		}
	}

	amount := extraction.TotalAmount
	if len(failures) == 0 {
		if amount != nil && *amount <= p.AutoApproveCeiling {
			return entity.RoutingDecision{
				Outcome: entity.OutcomeAutoApproved,
				Reason: fmt.Sprintf("amount %s is within the auto-approval ceiling %s and all policy checks passed",
					*amount, p.AutoApproveCeiling),
				EvaluatedAt: now,
			}
		}
		if amount == nil {
			add(entity.CheckCeiling, "total amount is missing")
		} else {
			add(entity.CheckCeiling, fmt.Sprintf("amount %s exceeds the auto-approval ceiling %s", *amount, p.AutoApproveCeiling))
		}
	}

	checks := make([]entity.Check, len(failures))
	for i, f := range failures {
		checks[i] = f.check
	}
	first := failures[0]

	if first.check == entity.CheckOpinionDecision {
		return entity.RoutingDecision{
			Outcome:      entity.OutcomeDeclined,
			Reason:       describe(first, failures[1:], ""),
			FailedChecks: checks,
			EvaluatedAt:  now,
		}
	}

	var tier entity.ApproverTier
	var routing string
	switch {
	case first.check == entity.CheckOpinionIntegrity:
		tier = p.HighestTier()
		routing = fmt.Sprintf("routed to %s approval", tier.Label())
	case amount == nil:
		tier = p.HighestTier()
		routing = fmt.Sprintf("amount unknown, routed to %s approval", tier.Label())
	default:
		tier = p.TierFor(*amount)
		routing = fmt.Sprintf("routed to %s approval for amount %s", tier.Label(), *amount)
	}

	return entity.RoutingDecision{
		Outcome:      tier.PendingOutcome(),
		ApproverTier: &tier,
		Reason:       describe(first, failures[1:], routing),
		FailedChecks: checks,
		EvaluatedAt:  now,
	}
}

func describe(first failure, rest []failure, routing string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s check failed: %s", checkLabel(first.check), first.reason)
	if routing != "" {
		b.WriteString("; ")
		b.WriteString(routing)
	}
	if len(rest) > 0 {
		notes := make([]string, len(rest))
		for i, f := range rest {
			notes[i] = f.reason
		}
		b.WriteString("; also: ")
		b.WriteString(strings.Join(notes, "; "))
	}
	return b.String()
}

func checkLabel(c entity.Check) string {
	return strings.ReplaceAll(string(c), "_", " ")
}

// checkIntegrity validates the opinion shape
func checkIntegrity(opinion *entity.ComplianceOpinion) (string, bool) {
	if opinion == nil {
		return "assessment unavailable: no compliance opinion", false
	}
	if opinion.Fault != "" {
		return "assessment unavailable: " + opinion.Fault, false
	}
	if !opinion.Decision.Valid() {
		return fmt.Sprintf("opinion malformed: unknown decision %q", opinion.Decision), false
	}
	if c := opinion.Confidence; c != nil && (math.IsNaN(*c) || *c < 0 || *c > 1) {
		return fmt.Sprintf("opinion malformed: confidence %v outside [0,1]", *c), false
	}
	return "", true
}

func missingFields(x *entity.ExtractionResult, p *Policy) []string {
	var missing []string
	for _, f := range p.RequiredFields {
		if !present(x, f) {
			missing = append(missing, string(f))
		}
	}
	return missing
}

func present(x *entity.ExtractionResult, f Field) bool {
	switch f {
	case FieldSupplierName:
		return entity.HasText(x.SupplierName)
	case FieldInvoiceNumber:
		return entity.HasText(x.InvoiceNumber)
	case FieldInvoiceDate:
		return x.InvoiceDate != nil && !x.InvoiceDate.IsZero()
	case FieldTotalAmount:
		return x.TotalAmount != nil
	case FieldCurrency:
		return entity.HasText(x.Currency)
	case FieldLineItems:
		return len(x.LineItems) > 0
	}
	return false
}

// matchKeyword returns the first configured keyword found in the opinion text
func matchKeyword(opinion *entity.ComplianceOpinion, keywords []string) string {
	if opinion == nil || len(keywords) == 0 {
		return ""
	}
	text := strings.ToLower(strings.Join(opinion.Citations, "\n") + "\n" + opinion.Reasoning)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

// ageInDays counts whole UTC calendar days between the invoice date and now.
// Future dates yield a negative age.
func ageInDays(invoiceDate, now time.Time) int {
	d := invoiceDate.UTC()
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
