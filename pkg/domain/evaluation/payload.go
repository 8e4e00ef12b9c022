package evaluation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Transaction is one entry of a customer's transaction history.
type Transaction struct {
	TransactionID string    `json:"transactionId" yaml:"transactionId"`
	Amount        float64   `json:"amount" yaml:"amount"`
	Type          string    `json:"type" yaml:"type"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
}

// CustomerPayload is the customer data an evaluation is run against.
type CustomerPayload struct {
	CustomerID         string        `json:"customerId" yaml:"customerId" validate:"required"`
	AccountType        string        `json:"accountType" yaml:"accountType" validate:"required"`
	AnnualIncome       float64       `json:"annualIncome" yaml:"annualIncome" validate:"gte=0"`
	CreditScore        int           `json:"creditScore" yaml:"creditScore" validate:"gte=0,lte=1000"`
	Region             string        `json:"region" yaml:"region" validate:"required"`
	TransactionCount   int           `json:"transactionCount" yaml:"transactionCount" validate:"gte=0"`
	AccountBalance     *float64      `json:"accountBalance,omitempty" yaml:"accountBalance,omitempty"`
	TransactionHistory []Transaction `json:"transactionHistory,omitempty" yaml:"transactionHistory,omitempty" validate:"omitempty,dive"`
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the required fields of the payload.
func (p CustomerPayload) Validate() error {
	err := payloadValidator.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid customer payload: %s", strings.Join(problems, "; "))
}

// Fields returns the payload as a flat variable map, keyed by the names
// expressions and external requests use.
func (p CustomerPayload) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"customerId":       p.CustomerID,
		"accountType":      p.AccountType,
		"annualIncome":     p.AnnualIncome,
		"creditScore":      p.CreditScore,
		"region":           p.Region,
		"transactionCount": p.TransactionCount,
	}
	if p.AccountBalance != nil {
		fields["accountBalance"] = *p.AccountBalance
	}
	if len(p.TransactionHistory) > 0 {
		history := make([]interface{}, 0, len(p.TransactionHistory))
		for _, tx := range p.TransactionHistory {
			history = append(history, map[string]interface{}{
				"transactionId": tx.TransactionID,
				"amount":        tx.Amount,
				"type":          tx.Type,
				"timestamp":     tx.Timestamp,
			})
		}
		fields["transactionHistory"] = history
	}
	return fields
}

// clone returns a deep copy so callers cannot mutate the payload held by a context.
func (p CustomerPayload) clone() CustomerPayload {
	out := p
	if p.AccountBalance != nil {
		b := *p.AccountBalance
		out.AccountBalance = &b
	}
	if p.TransactionHistory != nil {
		out.TransactionHistory = make([]Transaction, len(p.TransactionHistory))
		copy(out.TransactionHistory, p.TransactionHistory)
	}
	return out
}
