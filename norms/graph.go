// Package norms maintains the citation graph in Neo4j: norm nodes grouped by
// jurisdiction with supersession edges between them. The graph enriches
// responses with related norms; it is never on a request's critical path, so
// graph failures degrade to log lines instead of failing the request.
package norms

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/normativa/lexgate/legal"
)

// Related is a norm connected to a cited document in the graph.
type Related struct {
	ID       string
	Title    string
	Relation string
}

type Store struct {
	driver neo4j.DriverWithContext
}

func NewStore(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

// SyncDocument upserts the norm node, its jurisdiction grouping, and the
// supersession edge when the document declares a successor.
func (s *Store) SyncDocument(ctx context.Context, doc legal.Document) error {
	if s.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":           doc.ID,
		"jurisdiction": doc.Jurisdiction,
		"docType":      string(doc.Type),
		"rank":         doc.HierarchyRank,
		"title":        doc.Title,
		"supersededBy": doc.SupersededBy,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (n:Norm {id: $id})
			SET n.jurisdiction = $jurisdiction,
			    n.doc_type = $docType,
			    n.rank = $rank,
			    n.title = $title,
			    n.updated_at = datetime()
			MERGE (j:Jurisdiction {code: $jurisdiction})
			MERGE (n)-[:IN_JURISDICTION]->(j)
		`, params); err != nil {
			return nil, fmt.Errorf("upsert norm node: %w", err)
		}

		if doc.SupersededBy != "" {
			if _, err := tx.Run(ctx, `
				MATCH (n:Norm {id: $id})
				MERGE (s:Norm {id: $supersededBy})
				MERGE (s)-[:SUPERSEDES]->(n)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert supersession edge: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync norm graph: %w", err)
	}
	return nil
}

// RelatedNorms returns, per cited document, the norms that supersede it and
// the same-type norms sharing its jurisdiction.
func (s *Store) RelatedNorms(ctx context.Context, docIDs []string) (map[string][]Related, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(docIDs) == 0 {
		return map[string][]Related{}, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n:Norm)
		WHERE n.id IN $ids
		OPTIONAL MATCH (superseding:Norm)-[:SUPERSEDES]->(n)
		OPTIONAL MATCH (n)-[:IN_JURISDICTION]->(j:Jurisdiction)<-[:IN_JURISDICTION]-(peer:Norm)
		WHERE peer.id <> n.id AND peer.doc_type = n.doc_type
		RETURN n.id AS id,
		       [s IN collect(DISTINCT superseding) WHERE s IS NOT NULL | {id: s.id, title: s.title}] AS superseding,
		       [p IN collect(DISTINCT peer) WHERE p IS NOT NULL | {id: p.id, title: p.title}][..5] AS peers
	`, map[string]any{"ids": docIDs})
	if err != nil {
		return nil, fmt.Errorf("run related norms query: %w", err)
	}

	related := make(map[string][]Related, len(docIDs))
	for result.Next(ctx) {
		record := result.Record()
		idVal, _ := record.Get("id")
		id, ok := idVal.(string)
		if !ok {
			continue
		}
		supersedingVal, _ := record.Get("superseding")
		peersVal, _ := record.Get("peers")
		entries := convertRelated(supersedingVal, "supersedes")
		entries = append(entries, convertRelated(peersVal, "same_jurisdiction")...)
		related[id] = entries
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("related norms result error: %w", err)
	}

	return related, nil
}

// Purge removes every norm and jurisdiction node from the graph.
func (s *Store) Purge(ctx context.Context) error {
	if s.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (n:Norm) DETACH DELETE n",
		"MATCH (j:Jurisdiction) DETACH DELETE j",
	}
	for _, query := range queries {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("purge norm graph: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("purge norm graph: %w", err)
		}
	}
	return nil
}

func convertRelated(value any, relation string) []Related {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]Related, 0, len(raw))
	for _, item := range raw {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := data["id"].(string)
		title, _ := data["title"].(string)
		if id == "" {
			continue
		}
		out = append(out, Related{ID: id, Title: title, Relation: relation})
	}
	return out
}
