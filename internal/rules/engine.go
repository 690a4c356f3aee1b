package rules

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constripacity/SentryBar/internal/logging"
	"github.com/constripacity/SentryBar/internal/models"
)

// Engine holds the in-memory rule list and evaluates connections
// against it. Rules are kept in insertion order and the first match
// wins; callers wanting override semantics must order their rules
// accordingly.
//
// Every mutation rewrites the persistent store. A store that cannot be
// read degrades to an empty rule set, and a failing write is tolerated
// silently beyond a log line; live classification matters more than
// persistence.
type Engine struct {
	mu    sync.Mutex
	rules []*models.ConnectionRule
	store *Store
	log   *logging.Logger
}

// NewEngine creates an engine backed by store and loads the persisted
// rule list. Load failure is not fatal: the engine starts empty.
func NewEngine(store *Store) *Engine {
	e := &Engine{
		store: store,
		log:   logging.RulesLogger(),
	}

	loaded, err := store.Load()
	if err != nil {
		e.log.Warn("rule store unreadable, starting with empty rule set",
			"path", store.Path(),
			logging.Err(err),
		)
		loaded = nil
	}
	e.rules = loaded

	e.log.Info("rule engine ready", "rules", len(loaded))
	return e
}

// Add appends a rule and persists the list. The created rule (with its
// generated ID and timestamp) is returned.
func (e *Engine) Add(ruleType models.RuleType, field models.RuleField, value, note string) *models.ConnectionRule {
	rule := &models.ConnectionRule{
		ID:        uuid.NewString(),
		Type:      ruleType,
		Field:     field,
		Value:     value,
		Note:      note,
		CreatedAt: time.Now(),
	}

	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.persistLocked()
	e.mu.Unlock()

	e.log.Info("rule added",
		"id", rule.ID,
		"type", string(ruleType),
		"field", string(field),
		"value", value,
	)
	return rule
}

// AllowProcess adds an allow rule for a process name.
func (e *Engine) AllowProcess(name, note string) *models.ConnectionRule {
	return e.Add(models.RuleAllowed, models.FieldProcessName, name, note)
}

// BlockProcess adds a block rule for a process name.
func (e *Engine) BlockProcess(name, note string) *models.ConnectionRule {
	return e.Add(models.RuleBlocked, models.FieldProcessName, name, note)
}

// BlockAddress adds a block rule for a remote address.
func (e *Engine) BlockAddress(addr, note string) *models.ConnectionRule {
	return e.Add(models.RuleBlocked, models.FieldRemoteAddress, addr, note)
}

// Remove deletes the rule with the given ID and persists. It reports
// whether a rule was removed.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, rule := range e.rules {
		if rule.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			e.persistLocked()
			return true
		}
	}
	return false
}

// RemoveAll clears the rule list and persists the empty set.
func (e *Engine) RemoveAll() {
	e.mu.Lock()
	e.rules = nil
	e.persistLocked()
	e.mu.Unlock()

	e.log.Info("all rules removed")
}

// Reload re-reads the persisted store, replacing the in-memory list.
// Used when the store file changes on disk. Corrupt content leaves the
// current list untouched.
func (e *Engine) Reload() {
	loaded, err := e.store.Load()
	if err != nil {
		e.log.Warn("rule reload failed, keeping current rules", logging.Err(err))
		return
	}

	e.mu.Lock()
	e.rules = loaded
	e.mu.Unlock()

	e.log.Info("rules reloaded", "rules", len(loaded))
}

// Rules returns a copy of the rule list in evaluation order.
func (e *Engine) Rules() []*models.ConnectionRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.ConnectionRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Match returns the first rule, in list order, matching the connection,
// or nil when no rule matches. Later rules matching the same connection
// are never reached.
func (e *Engine) Match(conn *models.Connection) *models.ConnectionRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.rules {
		if rule.Matches(conn) {
			return rule
		}
	}
	return nil
}

// Classify maps the first matching rule onto a Classification,
// ClassificationNone when no rule matches.
func (e *Engine) Classify(conn *models.Connection) models.Classification {
	switch rule := e.Match(conn); {
	case rule == nil:
		return models.ClassificationNone
	case rule.Type == models.RuleBlocked:
		return models.ClassificationBlocked
	default:
		return models.ClassificationAllowed
	}
}

// IsAllowed reports whether the first matching rule allows the
// connection.
func (e *Engine) IsAllowed(conn *models.Connection) bool {
	rule := e.Match(conn)
	return rule != nil && rule.Type == models.RuleAllowed
}

// IsBlocked reports whether the first matching rule blocks the
// connection.
func (e *Engine) IsBlocked(conn *models.Connection) bool {
	rule := e.Match(conn)
	return rule != nil && rule.Type == models.RuleBlocked
}

// Counts returns the number of allow and block rules.
func (e *Engine) Counts() (allowed, blocked int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.rules {
		if rule.Type == models.RuleBlocked {
			blocked++
		} else {
			allowed++
		}
	}
	return allowed, blocked
}

// persistLocked rewrites the store. Callers hold e.mu, which also
// serializes rewrites: only one runs at a time per mutation.
func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	if err := e.store.Save(e.rules); err != nil {
		// Tolerated: rules simply will not survive restart.
		e.log.Warn("rule store write failed", logging.Err(err))
	}
}
