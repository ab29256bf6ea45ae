package client

import (
	"context"
	"net/http"
	"time"
)

// CreditBalance is the user's spendable credit state.
type CreditBalance struct {
	Balance      int        `json:"balance"`
	BonusCredits int        `json:"bonusCredits"`
	LastResetAt  *time.Time `json:"lastResetAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// GetCreditBalance returns the current user's credit balance.
func (c *Client) GetCreditBalance(ctx context.Context) (*CreditBalance, error) {
	var balance CreditBalance
	if err := c.unwrap(ctx, http.MethodGet, "/api/public/credits", nil, nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// HasEnoughCredits reports whether the balance covers cost.
func (b *CreditBalance) HasEnoughCredits(cost int) bool {
	return b.Balance+b.BonusCredits >= cost
}
