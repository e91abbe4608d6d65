// Package bunadapter persists Casbin policies in the casbin_rules table
// through bun.
//
// Forked from github.com/msales/casbin-bun-adapter at v1.0.7: the hard-coded
// Postgres schema qualifier is dropped so the adapter works with schema-less
// table names (SQLite and the Postgres public schema), and the filtered and
// update surfaces are removed because the route policy set is loaded whole.
package bunadapter

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"github.com/uptrace/bun"
)

// Adapter represents the github.com/uptrace/bun adapter for policy storage.
type Adapter struct {
	db *bun.DB
}

var _ persist.Adapter = (*Adapter)(nil)
var _ persist.BatchAdapter = (*Adapter)(nil)

// NewAdapter creates a new Adapter on an existing bun database connection.
// Expects the casbin_rules table to be created by migrations.
func NewAdapter(db *bun.DB) (*Adapter, error) {
	return &Adapter{db: db}, nil
}

// LoadPolicy loads the whole policy set from the database.
func (a *Adapter) LoadPolicy(model model.Model) error {
	var rules []*CasbinRule

	if err := a.db.NewSelect().Model(&rules).Scan(context.Background()); err != nil {
		return fmt.Errorf("failed to load policy from adapter db: %w", err)
	}

	for _, r := range rules {
		values, lastNonEmpty := r.toValueSlice()
		if lastNonEmpty == -1 {
			continue // skip empty rule
		}
		// Add values directly rather than re-parsing a CSV line, so policy
		// values may contain commas and separators.
		_ = model.AddPolicy(r.Ptype, r.Ptype, values[:lastNonEmpty+1])
	}

	return nil
}

// SavePolicy saves the policy to the database, removing any rules already
// present.
func (a *Adapter) SavePolicy(model model.Model) error {
	rules := a.extractRules(model)

	if err := a.save(true, rules...); err != nil {
		return fmt.Errorf("failed to save policy to adapter db: %w", err)
	}

	return nil
}

// AddPolicy adds a policy rule to the database.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	r := newCasbinRule(ptype, rule)

	if err := a.save(false, r); err != nil {
		return fmt.Errorf("failed to add adapter policy rule: %w", err)
	}

	return nil
}

// AddPolicies adds policy rules to the database.
func (a *Adapter) AddPolicies(_ string, ptype string, rules [][]string) error {
	casbinRules := make([]*CasbinRule, 0, len(rules))
	for _, rule := range rules {
		casbinRules = append(casbinRules, newCasbinRule(ptype, rule))
	}

	if err := a.save(false, casbinRules...); err != nil {
		return fmt.Errorf("failed to add policy rules: %w", err)
	}

	return nil
}

// RemovePolicy removes a policy rule from the database.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	r := newCasbinRule(ptype, rule)

	if err := a.delete(r); err != nil {
		return fmt.Errorf("failed to remove adapter policy rule: %w", err)
	}

	return nil
}

// RemovePolicies removes policy rules from the database.
func (a *Adapter) RemovePolicies(_ string, ptype string, rules [][]string) error {
	var casbinRules []*CasbinRule
	for _, rule := range rules {
		casbinRules = append(casbinRules, newCasbinRule(ptype, rule))
	}

	if err := a.delete(casbinRules...); err != nil {
		return fmt.Errorf("failed to remove policy rules: %w", err)
	}

	return nil
}

// RemoveFilteredPolicy removes policy rules that match the filter from the
// database.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	query := a.db.NewDelete().Model((*CasbinRule)(nil)).Where("ptype = ?", ptype)

	idx := fieldIndex + len(fieldValues)
	columns := []string{"v0", "v1", "v2", "v3", "v4", "v5"}
	for i, column := range columns {
		if fieldIndex <= i && idx > i && fieldValues[i-fieldIndex] != "" {
			query = query.Where(column+" = ?", fieldValues[i-fieldIndex])
		}
	}

	if _, err := query.Exec(context.Background()); err != nil {
		return fmt.Errorf("failed to remove filtered adapter policy: %w", err)
	}

	return nil
}

func (a *Adapter) extractRules(model model.Model) []*CasbinRule {
	var casbinRules []*CasbinRule

	for ptype, assertion := range model["p"] {
		for _, rule := range assertion.Policy {
			casbinRules = append(casbinRules, newCasbinRule(ptype, rule))
		}
	}

	for ptype, assertion := range model["g"] {
		for _, rule := range assertion.Policy {
			casbinRules = append(casbinRules, newCasbinRule(ptype, rule))
		}
	}

	return casbinRules
}

func (a *Adapter) save(truncate bool, lines ...*CasbinRule) error {
	return a.db.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		if truncate {
			_, err := tx.NewTruncateTable().Model((*CasbinRule)(nil)).Exec(ctx)
			if err != nil {
				return err
			}
		}

		for _, line := range lines {
			_, err := tx.NewInsert().Model(line).On("CONFLICT DO NOTHING").Exec(ctx)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (a *Adapter) delete(lines ...*CasbinRule) error {
	if len(lines) == 0 {
		return nil
	}

	delQuery := a.db.NewDelete().Model((*CasbinRule)(nil))
	delQuery.QueryBuilder().WhereGroup("AND", func(q bun.QueryBuilder) bun.QueryBuilder {
		return q.WhereGroup("OR", func(q bun.QueryBuilder) bun.QueryBuilder {
			for _, line := range lines {
				line.queryWhereGroup(q)
			}
			return q
		})
	})
	if _, err := delQuery.Exec(context.Background()); err != nil {
		return err
	}

	return nil
}

// CasbinRule represents one stored policy rule.
//
// Every column is part of the composite primary key, which makes the whole
// rule tuple unique and gives seed migrations a conflict target.
type CasbinRule struct {
	bun.BaseModel `bun:"table:casbin_rules,alias:cr"`

	Ptype string `bun:",pk,type:varchar(100),notnull"` // Policy type: 'p' (policy), 'g' (grouping)
	V0    string `bun:",pk,type:varchar(255)"`         // Path pattern
	V1    string `bun:",pk,type:varchar(255)"`         // Method pattern
	V2    string `bun:",pk,type:varchar(255)"`         // Required permission OR set
	V3    string `bun:",pk,type:varchar(255)"`         // Reserved
	V4    string `bun:",pk,type:varchar(255)"`         // Reserved
	V5    string `bun:",pk,type:varchar(255)"`         // Reserved
}

func newCasbinRule(ptype string, rule []string) *CasbinRule {
	line := &CasbinRule{Ptype: ptype}

	fields := []*string{&line.V0, &line.V1, &line.V2, &line.V3, &line.V4, &line.V5}
	for i := 0; i < len(rule) && i < len(fields); i++ {
		*fields[i] = rule[i]
	}

	return line
}

// queryWhereGroup extends the query builder with another OR group containing
// all non-empty fields of the rule.
func (r *CasbinRule) queryWhereGroup(q bun.QueryBuilder) bun.QueryBuilder {
	q.WhereGroup("OR", func(q bun.QueryBuilder) bun.QueryBuilder {
		q = q.Where("ptype = ?", r.Ptype)
		values := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
		columns := []string{"v0", "v1", "v2", "v3", "v4", "v5"}
		for i, v := range values {
			if v != "" {
				q = q.Where(columns[i]+" = ?", v)
			}
		}
		return q
	})
	return q
}

func (r *CasbinRule) toValueSlice() ([]string, int) {
	values := []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
	lastNonEmpty := -1
	for i := len(values) - 1; i >= 0; i-- {
		if values[i] != "" {
			lastNonEmpty = i
			break
		}
	}
	return values, lastNonEmpty
}
