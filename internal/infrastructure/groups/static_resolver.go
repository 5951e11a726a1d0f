package groups

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StaticResolver maps email domains to groups, with exact addresses taking precedence
type StaticResolver struct {
	byAddress map[string]uuid.UUID
	byDomain  map[string]uuid.UUID
}

// NewStaticResolver builds a resolver from key -> group entries. A key
// containing '@' is an exact address, anything else is a domain.
func NewStaticResolver(entries map[string]uuid.UUID) *StaticResolver {
	r := &StaticResolver{
		byAddress: make(map[string]uuid.UUID),
		byDomain:  make(map[string]uuid.UUID),
	}
	for key, group := range entries {
		key = strings.ToLower(strings.TrimSpace(key))
		if strings.Contains(key, "@") {
			r.byAddress[key] = group
		} else if key != "" {
			r.byDomain[key] = group
		}
	}
	return r
}

// ParseStaticMappings parses "key=uuid" pairs separated by commas,
// e.g. "acme.com=3f1c...,ceo@acme.com=9a2e..."
func ParseStaticMappings(raw string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid group mapping %q: expected key=uuid", pair)
		}
		id, err := uuid.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid group id in mapping %q: %w", pair, err)
		}
		out[strings.TrimSpace(key)] = id
	}
	return out, nil
}

// ResolveGroupForEmail implements the GroupResolver interface
func (r *StaticResolver) ResolveGroupForEmail(_ context.Context, email string) (uuid.UUID, bool, error) {
	address, domain, ok := normalizeEmail(email)
	if !ok {
		return uuid.Nil, false, nil
	}
	if id, found := r.byAddress[address]; found {
		return id, true, nil
	}
	if id, found := r.byDomain[domain]; found {
		return id, true, nil
	}
	return uuid.Nil, false, nil
}
