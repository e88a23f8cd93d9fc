// Package sparql implements the record gateway against a SPARQL 1.1
// endpoint, persisting each interaction as a set of triples in a named
// graph. Any store that speaks SPARQL 1.1 Query and Update over HTTP works
// (Fuseki, Virtuoso, GraphDB).
package sparql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"mnemo/internal/domain"
)

const vocab = "http://purl.org/mnemo/core#"

// Gateway implements domain.RecordGateway over SPARQL 1.1 HTTP. Write order
// is preserved through an explicit sequence triple, since triple stores do
// not guarantee insertion order.
type Gateway struct {
	queryEndpoint  string
	updateEndpoint string
	graph          string
	username       string
	password       string
	client         *http.Client
	logger         *slog.Logger
	seq            atomic.Int64
}

// Option configures the SPARQL gateway.
type Option func(*Gateway)

// WithBasicAuth sets credentials for both endpoints.
func WithBasicAuth(username, password string) Option {
	return func(g *Gateway) { g.username, g.password = username, password }
}

// WithClient sets a custom HTTP client.
func WithClient(client *http.Client) Option {
	return func(g *Gateway) { g.client = client }
}

// New creates a gateway for the given query/update endpoints and named graph.
func New(queryEndpoint, updateEndpoint, graph string, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		queryEndpoint:  queryEndpoint,
		updateEndpoint: updateEndpoint,
		graph:          graph,
		client:         &http.Client{Timeout: 30 * time.Second},
		logger:         logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.seq.Store(time.Now().UnixNano())
	return g
}

// Close implements domain.RecordGateway. Stateless transport; nothing to release.
func (g *Gateway) Close() error { return nil }

// WriteRecord implements domain.RecordGateway.
func (g *Gateway) WriteRecord(ctx context.Context, in domain.Interaction) error {
	exists, err := g.exists(ctx, in.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: id %s", domain.ErrWriteConflict, in.ID)
	}

	triples, err := recordTriples(in, g.seq.Add(1))
	if err != nil {
		return err
	}
	update := fmt.Sprintf("INSERT DATA { GRAPH <%s> {\n%s} }", g.graph, triples)
	return g.update(ctx, update)
}

// UpdateRecord implements domain.RecordGateway. Replaces only the lifecycle
// triples; prompt, output, embedding, concepts, and sequence are immutable.
func (g *Gateway) UpdateRecord(ctx context.Context, in domain.Interaction) error {
	exists, err := g.exists(ctx, in.ID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, in.ID)
	}

	subject := subjectIRI(in.ID)
	update := fmt.Sprintf(`DELETE { GRAPH <%[1]s> {
	<%[2]s> <%[3]stimestamp> ?ts .
	<%[2]s> <%[3]saccessCount> ?ac .
	<%[2]s> <%[3]sdecayFactor> ?df .
	<%[2]s> <%[3]stier> ?tier .
} }
INSERT { GRAPH <%[1]s> {
	<%[2]s> <%[3]stimestamp> %[4]s .
	<%[2]s> <%[3]saccessCount> %[5]d .
	<%[2]s> <%[3]sdecayFactor> %[6]s .
	<%[2]s> <%[3]stier> %[7]s .
} }
WHERE { GRAPH <%[1]s> {
	<%[2]s> <%[3]stimestamp> ?ts .
	<%[2]s> <%[3]saccessCount> ?ac .
	<%[2]s> <%[3]sdecayFactor> ?df .
	<%[2]s> <%[3]stier> ?tier .
} }`,
		g.graph, subject, vocab,
		literal(in.Timestamp.UTC().Format(time.RFC3339Nano)),
		in.AccessCount,
		strconv.FormatFloat(in.DecayFactor, 'g', -1, 64),
		literal(string(in.Tier)),
	)
	return g.update(ctx, update)
}

// ReadAllRecords implements domain.RecordGateway, ordered by the sequence
// triple assigned at write time.
func (g *Gateway) ReadAllRecords(ctx context.Context) ([]domain.Interaction, error) {
	query := fmt.Sprintf(`SELECT ?id ?prompt ?output ?embedding ?concepts ?ts ?ac ?df ?tier WHERE {
	GRAPH <%[1]s> {
		?s <%[2]sid> ?id ;
		   <%[2]sprompt> ?prompt ;
		   <%[2]soutput> ?output ;
		   <%[2]sembedding> ?embedding ;
		   <%[2]sconcepts> ?concepts ;
		   <%[2]stimestamp> ?ts ;
		   <%[2]saccessCount> ?ac ;
		   <%[2]sdecayFactor> ?df ;
		   <%[2]stier> ?tier ;
		   <%[2]ssequence> ?seq .
	}
} ORDER BY ?seq`, g.graph, vocab)

	bindings, err := g.selectQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Interaction, 0, len(bindings))
	for _, b := range bindings {
		rec, err := bindingToRecord(b)
		if err != nil {
			g.logger.Warn("skipping unreadable binding", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// exists checks whether any triple with the record's subject is present.
func (g *Gateway) exists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf("ASK { GRAPH <%s> { <%s> ?p ?o } }", g.graph, subjectIRI(id))
	body, err := g.post(ctx, g.queryEndpoint, "application/sparql-query", query)
	if err != nil {
		return false, err
	}
	var result struct {
		Boolean bool `json:"boolean"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("%w: parse ask result: %v", domain.ErrStorageUnavailable, err)
	}
	return result.Boolean, nil
}

func (g *Gateway) update(ctx context.Context, update string) error {
	_, err := g.post(ctx, g.updateEndpoint, "application/sparql-update", update)
	return err
}

// binding is one SPARQL JSON result row: variable -> {type, value}.
type binding map[string]struct {
	Value string `json:"value"`
}

func (g *Gateway) selectQuery(ctx context.Context, query string) ([]binding, error) {
	body, err := g.post(ctx, g.queryEndpoint, "application/sparql-query", query)
	if err != nil {
		return nil, err
	}
	var result struct {
		Results struct {
			Bindings []binding `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: parse select result: %v", domain.ErrStorageUnavailable, err)
	}
	return result.Results.Bindings, nil
}

func (g *Gateway) post(ctx context.Context, endpoint, contentType, payload string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrStorageUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/sparql-results+json")
	if g.username != "" {
		req.SetBasicAuth(g.username, g.password)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrStorageUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: endpoint returned %d: %s", domain.ErrStorageUnavailable, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
