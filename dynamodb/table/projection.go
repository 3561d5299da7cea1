package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type ProjectionKind string

const (
	ProjectAll      ProjectionKind = "ALL"
	ProjectOnlyKeys ProjectionKind = "KEYS_ONLY"
	ProjectSubset   ProjectionKind = "INCLUDE"
)

// Projection describes which attributes a secondary index copies from the
// table. The zero value projects everything.
type Projection struct {
	Kind ProjectionKind
	// Only used with ProjectSubset. Key attributes are always projected.
	NonKeyAttributes []string
}

func (p Projection) kind() ProjectionKind {
	if p.Kind == "" {
		return ProjectAll
	}
	return p.Kind
}

func (p Projection) validate() error {
	switch p.kind() {
	case ProjectAll, ProjectOnlyKeys:
		if len(p.NonKeyAttributes) > 0 {
			return fmt.Errorf("projection %s does not take non-key attributes", p.kind())
		}
	case ProjectSubset:
	default:
		return fmt.Errorf("unknown projection kind %q", p.Kind)
	}
	return nil
}

// Project copies the attributes of doc visible through the projection.
// keyNames are always included when present.
func (p Projection) Project(doc map[string]types.AttributeValue, keyNames []string) map[string]types.AttributeValue {
	if p.kind() == ProjectAll {
		out := make(map[string]types.AttributeValue, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	out := make(map[string]types.AttributeValue, len(keyNames)+len(p.NonKeyAttributes))
	for _, k := range keyNames {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	if p.kind() == ProjectSubset {
		for _, k := range p.NonKeyAttributes {
			if v, ok := doc[k]; ok {
				out[k] = v
			}
		}
	}
	return out
}

// Covers reports whether every attribute in names is available through the
// projection.
func (p Projection) Covers(names []string, keyNames []string) bool {
	if p.kind() == ProjectAll {
		return true
	}
	avail := map[string]bool{}
	for _, k := range keyNames {
		avail[k] = true
	}
	if p.kind() == ProjectSubset {
		for _, k := range p.NonKeyAttributes {
			avail[k] = true
		}
	}
	for _, n := range names {
		if !avail[n] {
			return false
		}
	}
	return true
}

func (p Projection) ddb() *types.Projection {
	out := &types.Projection{ProjectionType: types.ProjectionType(p.kind())}
	if p.kind() == ProjectSubset {
		out.NonKeyAttributes = append([]string(nil), p.NonKeyAttributes...)
	}
	return out
}

func projectionFromDDB(p *types.Projection) Projection {
	if p == nil {
		return Projection{Kind: ProjectAll}
	}
	return Projection{
		Kind:             ProjectionKind(p.ProjectionType),
		NonKeyAttributes: append([]string(nil), p.NonKeyAttributes...),
	}
}
