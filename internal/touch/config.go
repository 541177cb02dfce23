// Package touch implements the incremental-publish change-propagation logic:
// a validated touch rule set and the engine that, given a single change
// event, computes and applies the transitive set of items to mark dirty.
package touch

import (
	"context"
	"log/slog"
	"sort"

	"pubengine/internal/config"
	"pubengine/internal/types"
)

// typeSet is a set of content type ids.
type typeSet map[types.TypeID]struct{}

func (s typeSet) contains(id types.TypeID) bool {
	_, ok := s[id]
	return ok
}

func (s typeSet) sorted() []types.TypeID {
	out := make([]types.TypeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// equal reports whether both sets hold exactly the same ids.
func (s typeSet) equal(other typeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.contains(id) {
			return false
		}
	}
	return true
}

// rule is one touch rule with its type names resolved to numeric ids.
type rule struct {
	sourceTypes    typeSet
	targetTypes    typeSet
	level          int
	touchAAParents bool
}

// Configuration is the immutable, resolved touch rule set. All derived
// indices are computed once at build time, so the value can be shared across
// goroutines without locking. Reconfiguration means building a new
// Configuration; there is no partial mutation.
type Configuration struct {
	rules []rule

	// bySource indexes rules by resolved source type id.
	bySource map[types.TypeID][]rule
	// levelTargets maps source type id -> level -> target type ids.
	levelTargets map[types.TypeID]map[int][]types.TypeID
	// maxLevel is the highest configured level per source type.
	maxLevel map[types.TypeID]int

	minLevel    int
	hasMinLevel bool

	touchDescendantNav bool
	touchLandingPages  bool
}

// Build resolves the declarative rule file against the type resolver and
// computes the derived indices. A type name that fails to resolve drops the
// affected rule source with a warning; resolution failures never abort the
// build (a partially resolved configuration is better than none).
func Build(ctx context.Context, spec *config.TouchRules, resolver types.TypeResolver, logger *slog.Logger) *Configuration {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &Configuration{
		bySource:     make(map[types.TypeID][]rule),
		levelTargets: make(map[types.TypeID]map[int][]types.TypeID),
		maxLevel:     make(map[types.TypeID]int),
	}
	if spec == nil {
		return cfg
	}
	cfg.touchDescendantNav = spec.Enabled
	cfg.touchLandingPages = spec.TouchLandingPages

	for i, rs := range spec.Rules {
		sources := resolveNames(ctx, resolver, rs.SourceTypes, logger, i, "source")
		targets := resolveNames(ctx, resolver, rs.TargetTypes, logger, i, "target")
		if len(sources) == 0 || len(targets) == 0 {
			logger.Warn("touch rule has no resolvable types, dropping",
				"index", i,
				"source_types", rs.SourceTypes,
				"target_types", rs.TargetTypes,
			)
			continue
		}
		cfg.rules = append(cfg.rules, rule{
			sourceTypes:    sources,
			targetTypes:    targets,
			level:          rs.Level,
			touchAAParents: rs.TouchAAParents,
		})
	}

	cfg.buildIndices()
	return cfg
}

// resolveNames resolves a list of type names, skipping (with a warning) any
// name the resolver rejects.
func resolveNames(ctx context.Context, resolver types.TypeResolver, names []string, logger *slog.Logger, ruleIdx int, role string) typeSet {
	out := make(typeSet, len(names))
	for _, name := range names {
		id, err := resolver.ResolveType(ctx, name)
		if err != nil {
			logger.Warn("cannot resolve content type name in touch rule",
				"rule_index", ruleIdx,
				"role", role,
				"type_name", name,
				"error", err,
			)
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// buildIndices computes the per-source derived indices and the global
// minimum level.
func (c *Configuration) buildIndices() {
	sets := make(map[types.TypeID]map[int]typeSet)

	for _, r := range c.rules {
		for src := range r.sourceTypes {
			c.bySource[src] = append(c.bySource[src], r)

			levels, ok := sets[src]
			if !ok {
				levels = make(map[int]typeSet)
				sets[src] = levels
			}
			targets, ok := levels[r.level]
			if !ok {
				targets = make(typeSet)
				levels[r.level] = targets
			}
			for t := range r.targetTypes {
				targets[t] = struct{}{}
			}

			if r.level > c.maxLevel[src] {
				c.maxLevel[src] = r.level
			}
		}

		if !c.hasMinLevel || r.level < c.minLevel {
			c.minLevel = r.level
			c.hasMinLevel = true
		}
	}

	for src, levels := range sets {
		byLevel := make(map[int][]types.TypeID, len(levels))
		for level, targets := range levels {
			byLevel[level] = targets.sorted()
		}
		c.levelTargets[src] = byLevel
	}
}

// LevelTargets returns the level -> target-type-ids map for a source type.
// An unknown source yields an empty map, never an error: a type with no
// configured rules simply propagates nothing. The returned map is shared and
// must be treated as read-only.
func (c *Configuration) LevelTargets(source types.TypeID) map[int][]types.TypeID {
	if lt, ok := c.levelTargets[source]; ok {
		return lt
	}
	return map[int][]types.TypeID{}
}

// ShouldTouchAAParents reports whether a rule for the source type matches
// exactly on (level, target type set) and asks for active-assembly parents to
// be touched. Any other level, even with the same target set, is false.
func (c *Configuration) ShouldTouchAAParents(source types.TypeID, level int, targets []types.TypeID) bool {
	want := make(typeSet, len(targets))
	for _, t := range targets {
		want[t] = struct{}{}
	}
	for _, r := range c.bySource[source] {
		if r.level == level && r.targetTypes.equal(want) {
			return r.touchAAParents
		}
	}
	return false
}

// MinimumLevel returns the smallest configured level across all rules. The
// second return is false when the configuration holds no rules.
func (c *Configuration) MinimumLevel() (int, bool) {
	return c.minLevel, c.hasMinLevel
}

// MaxLevel returns the highest configured level for the source type, or zero
// when the source has no rules.
func (c *Configuration) MaxLevel(source types.TypeID) int {
	return c.maxLevel[source]
}

// Enabled reports whether touch-item processing does anything at all: true
// if descendant-navigation touching is on or at least one rule exists.
func (c *Configuration) Enabled() bool {
	return c.touchDescendantNav || len(c.rules) > 0
}

// TouchDescendantNav reports whether all descendant navigation nodes of a
// changed navigation node are touched unconditionally.
func (c *Configuration) TouchDescendantNav() bool {
	return c.touchDescendantNav
}

// TouchLandingPages reports whether the descendant set is the associated
// landing pages instead of the navigation nodes themselves.
func (c *Configuration) TouchLandingPages() bool {
	return c.touchLandingPages
}
