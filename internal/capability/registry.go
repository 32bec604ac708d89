package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AgentCard describes one specialist agent: what it researches, what it may
// touch, and an integrity signature checked at startup.
type AgentCard struct {
	Section      string   `json:"section"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	CostEstimate float64  `json:"cost_estimate"`
	SideEffects  []string `json:"side_effects,omitempty"`
	Signature    string   `json:"signature,omitempty"`
}

// DefaultAgentCards returns the cards for the built-in specialists.
func DefaultAgentCards() []AgentCard {
	return []AgentCard{
		{Section: "financial", Version: "v1", Description: "Revenue, profitability, growth and funding", SideEffects: []string{"network"}},
		{Section: "market", Version: "v1", Description: "Market size, share and trends", SideEffects: []string{"network"}},
		{Section: "competitive", Version: "v1", Description: "Competitors and positioning", SideEffects: []string{"network"}},
		{Section: "news", Version: "v1", Description: "Recent announcements and events", SideEffects: []string{"network"}},
	}
}

// Registry holds validated AgentCards keyed by section.
type Registry struct {
	cards map[string]AgentCard
}

// ErrAgentMissing indicates a required specialist is not registered.
var ErrAgentMissing = fmt.Errorf("required agent missing")

// NewRegistry validates card signatures and checks every required section has
// a card. An empty signing secret disables signature checks.
func NewRegistry(cards []AgentCard, signingSecret string, required []string) (*Registry, error) {
	reg := &Registry{cards: make(map[string]AgentCard)}
	for _, card := range cards {
		if err := validateSignature(card, signingSecret); err != nil {
			return nil, fmt.Errorf("agent %s@%s signature invalid: %w", card.Section, card.Version, err)
		}
		reg.cards[card.Section] = card
	}
	for _, r := range required {
		if _, ok := reg.cards[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentMissing, r)
		}
	}
	return reg, nil
}

// Card returns the AgentCard for a section.
func (r *Registry) Card(section string) (AgentCard, bool) {
	if r == nil {
		return AgentCard{}, false
	}
	card, ok := r.cards[section]
	return card, ok
}

// Sections returns the registered section names.
func (r *Registry) Sections() []string {
	out := make([]string, 0, len(r.cards))
	for s := range r.cards {
		out = append(out, s)
	}
	return out
}

// SignAgentCard computes the HMAC signature over the card's canonical form.
func SignAgentCard(card AgentCard, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	payload := map[string]interface{}{
		"section":       card.Section,
		"version":       card.Version,
		"description":   card.Description,
		"cost_estimate": card.CostEstimate,
		"side_effects":  card.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(sum[:])
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(card AgentCard, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignAgentCard(card, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(card.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
