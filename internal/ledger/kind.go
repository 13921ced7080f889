package ledger

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a metered operation. The set is closed: values outside the
// declared constants can only be produced by an explicit conversion and are
// rejected by every ledger operation.
type Kind uint8

const (
	KindSentimentAnalysis Kind = iota + 1
	KindLiveDetection
	KindPDFAnalysis
)

// Kinds lists every operation kind in display order.
var Kinds = []Kind{KindSentimentAnalysis, KindLiveDetection, KindPDFAnalysis}

var kindNames = map[Kind]string{
	KindSentimentAnalysis: "sentiment_analysis",
	KindLiveDetection:     "live_detection",
	KindPDFAnalysis:       "pdf_analysis",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind maps a wire name such as "pdf_analysis" to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// CostTable maps each operation kind to its credit cost. It is built once and
// never mutated afterwards.
type CostTable struct {
	costs map[Kind]int
}

// DefaultCostTable returns the canonical cost table.
func DefaultCostTable() CostTable {
	t, _ := NewCostTable(map[Kind]int{
		KindSentimentAnalysis: 2,
		KindLiveDetection:     2,
		KindPDFAnalysis:       2,
	})
	return t
}

// NewCostTable validates that every declared kind has a positive cost.
func NewCostTable(costs map[Kind]int) (CostTable, error) {
	table := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		c, ok := costs[k]
		if !ok {
			return CostTable{}, fmt.Errorf("cost table: missing cost for %s", k)
		}
		if c <= 0 {
			return CostTable{}, fmt.Errorf("cost table: cost for %s must be positive, got %d", k, c)
		}
		table[k] = c
	}
	for k := range costs {
		if !k.Valid() {
			return CostTable{}, fmt.Errorf("cost table: %w: %d", ErrUnknownKind, uint8(k))
		}
	}
	return CostTable{costs: table}, nil
}

// Cost returns the credit cost of k.
func (t CostTable) Cost(k Kind) (int, error) {
	c, ok := t.costs[k]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	return c, nil
}

// Map returns a copy of the table keyed by wire name.
func (t CostTable) Map() map[string]int {
	out := make(map[string]int, len(t.costs))
	for k, c := range t.costs {
		out[k.String()] = c
	}
	return out
}

func (t CostTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Map())
}
