package sparql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mnemo/internal/domain"
)

// subjectIRI returns the subject node for a record id.
func subjectIRI(id string) string {
	return "urn:mnemo:interaction:" + id
}

// recordTriples renders an interaction as N-Triples-style statements for an
// INSERT DATA block. Embedding and concepts are stored as JSON literals:
// round-trippable without an RDF list walk, at the cost of opacity to
// SPARQL-side math, which the store never does.
func recordTriples(in domain.Interaction, seq int64) (string, error) {
	embedding, err := json.Marshal(in.Embedding)
	if err != nil {
		return "", fmt.Errorf("%w: marshal embedding: %v", domain.ErrStorageUnavailable, err)
	}
	concepts := in.Concepts
	if concepts == nil {
		concepts = []string{}
	}
	conceptsJSON, err := json.Marshal(concepts)
	if err != nil {
		return "", fmt.Errorf("%w: marshal concepts: %v", domain.ErrStorageUnavailable, err)
	}

	s := subjectIRI(in.ID)
	var b strings.Builder
	writeTriple := func(predicate, object string) {
		fmt.Fprintf(&b, "\t<%s> <%s%s> %s .\n", s, vocab, predicate, object)
	}
	writeTriple("id", literal(in.ID))
	writeTriple("prompt", literal(in.Prompt))
	writeTriple("output", literal(in.Output))
	writeTriple("embedding", literal(string(embedding)))
	writeTriple("concepts", literal(string(conceptsJSON)))
	writeTriple("timestamp", literal(in.Timestamp.UTC().Format(time.RFC3339Nano)))
	writeTriple("accessCount", strconv.Itoa(in.AccessCount))
	writeTriple("decayFactor", strconv.FormatFloat(in.DecayFactor, 'g', -1, 64))
	writeTriple("tier", literal(string(in.Tier)))
	writeTriple("sequence", strconv.FormatInt(seq, 10))
	return b.String(), nil
}

// bindingToRecord parses one SPARQL SELECT row back into an Interaction.
func bindingToRecord(b binding) (domain.Interaction, error) {
	var in domain.Interaction

	get := func(name string) (string, error) {
		v, ok := b[name]
		if !ok {
			return "", fmt.Errorf("missing binding %q", name)
		}
		return v.Value, nil
	}

	var err error
	if in.ID, err = get("id"); err != nil {
		return in, err
	}
	if in.Prompt, err = get("prompt"); err != nil {
		return in, err
	}
	if in.Output, err = get("output"); err != nil {
		return in, err
	}

	embeddingJSON, err := get("embedding")
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal([]byte(embeddingJSON), &in.Embedding); err != nil {
		return in, fmt.Errorf("parse embedding: %w", err)
	}

	conceptsJSON, err := get("concepts")
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal([]byte(conceptsJSON), &in.Concepts); err != nil {
		return in, fmt.Errorf("parse concepts: %w", err)
	}

	ts, err := get("ts")
	if err != nil {
		return in, err
	}
	if in.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return in, fmt.Errorf("parse timestamp: %w", err)
	}

	ac, err := get("ac")
	if err != nil {
		return in, err
	}
	if in.AccessCount, err = strconv.Atoi(ac); err != nil {
		return in, fmt.Errorf("parse access count: %w", err)
	}

	df, err := get("df")
	if err != nil {
		return in, err
	}
	if in.DecayFactor, err = strconv.ParseFloat(df, 64); err != nil {
		return in, fmt.Errorf("parse decay factor: %w", err)
	}

	tier, err := get("tier")
	if err != nil {
		return in, err
	}
	in.Tier = domain.Tier(tier)

	return in, nil
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// literal renders a quoted, escaped string literal.
func literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}
