// Package activation widens retrieval candidate sets through concept
// co-occurrence: records sharing at least one concept with a top-ranked hit
// receive a secondary, lower-weighted inclusion pass.
package activation

import "strings"

// SecondaryWeight scales the adjusted score of records pulled in by concept
// overlap rather than direct similarity.
const SecondaryWeight = 0.5

// Graph is an inverted index from normalized concept to the record ids that
// mention it. Mutation is guarded by the store's writer lock.
type Graph struct {
	byConcept map[string]map[string]struct{}
}

// NewGraph returns an empty concept graph.
func NewGraph() *Graph {
	return &Graph{byConcept: make(map[string]map[string]struct{})}
}

// Add registers a record's concepts. Matching is case-insensitive; the
// record keeps its original concept strings for display.
func (g *Graph) Add(id string, concepts []string) {
	for _, c := range concepts {
		key := normalize(c)
		if key == "" {
			continue
		}
		ids, ok := g.byConcept[key]
		if !ok {
			ids = make(map[string]struct{})
			g.byConcept[key] = ids
		}
		ids[id] = struct{}{}
	}
}

// Reset drops all edges. Used by rebuild.
func (g *Graph) Reset() {
	g.byConcept = make(map[string]map[string]struct{})
}

// Related returns the ids of records sharing at least one of the given
// concepts, excluding any id present in the exclude set.
func (g *Graph) Related(concepts []string, exclude map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var related []string
	for _, c := range concepts {
		for id := range g.byConcept[normalize(c)] {
			if _, skip := exclude[id]; skip {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			related = append(related, id)
		}
	}
	return related
}

func normalize(concept string) string {
	return strings.ToLower(strings.TrimSpace(concept))
}
