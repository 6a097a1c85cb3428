// Package graph mirrors session topic hierarchies into Neo4j.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/hyperjump/bilgi/internal/models"
)

// Neo4jSink writes (:Session)-[:HAS_TOPIC]->(:Topic) nodes with
// (:Topic)-[:REQUIRES]->(:Topic) prerequisite edges and
// (:Topic)-[:COVERS]->(:Chunk) links.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewNeo4jSink connects to uri and verifies connectivity.
func NewNeo4jSink(ctx context.Context, uri, user, password, database string, logger *zap.Logger) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Neo4jSink{driver: driver, database: database, logger: logger}, nil
}

type syncParams struct {
	topicIDs []string
	topics   []map[string]any
	edges    []map[string]any
	covers   []map[string]any
}

func buildParams(topics []*models.Topic) syncParams {
	p := syncParams{
		topicIDs: make([]string, 0, len(topics)),
		topics:   make([]map[string]any, 0, len(topics)),
		edges:    []map[string]any{},
		covers:   []map[string]any{},
	}
	for _, t := range topics {
		keywords := t.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		p.topicIDs = append(p.topicIDs, t.ID)
		p.topics = append(p.topics, map[string]any{
			"id":         t.ID,
			"title":      t.Title,
			"order":      t.Order,
			"difficulty": string(t.Difficulty),
			"keywords":   keywords,
			"confidence": t.ExtractionConfidence,
		})
		for _, pre := range t.Prerequisites {
			p.edges = append(p.edges, map[string]any{"from": t.ID, "to": pre})
		}
		for _, c := range t.RelatedChunkIDs {
			p.covers = append(p.covers, map[string]any{"topic": t.ID, "chunk": c})
		}
	}
	return p
}

// SyncTopics replaces the session's topic subgraph with topics in one write transaction.
func (s *Neo4jSink) SyncTopics(ctx context.Context, sessionID string, topics []*models.Topic) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer session.Close(ctx)

	p := buildParams(topics)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MERGE (s:Session {id: $session_id})`, map[string]any{"session_id": sessionID}); err != nil {
			return nil, fmt.Errorf("upsert session node: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (s:Session {id: $session_id})-[:HAS_TOPIC]->(t:Topic)
			WHERE NOT t.id IN $ids
			DETACH DELETE t
		`, map[string]any{"session_id": sessionID, "ids": p.topicIDs}); err != nil {
			return nil, fmt.Errorf("remove stale topics: %w", err)
		}
		if _, err := tx.Run(ctx, `
			UNWIND $topics AS tp
			MATCH (s:Session {id: $session_id})
			MERGE (t:Topic {id: tp.id})
			SET t.title = tp.title,
			    t.order = tp.order,
			    t.difficulty = tp.difficulty,
			    t.keywords = tp.keywords,
			    t.confidence = tp.confidence,
			    t.updated_at = datetime()
			MERGE (s)-[:HAS_TOPIC]->(t)
		`, map[string]any{"session_id": sessionID, "topics": p.topics}); err != nil {
			return nil, fmt.Errorf("upsert topics: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (t:Topic)-[r:REQUIRES|COVERS]->()
			WHERE t.id IN $ids
			DELETE r
		`, map[string]any{"ids": p.topicIDs}); err != nil {
			return nil, fmt.Errorf("clear topic relations: %w", err)
		}
		if _, err := tx.Run(ctx, `
			UNWIND $edges AS e
			MATCH (a:Topic {id: e.from}), (b:Topic {id: e.to})
			MERGE (a)-[:REQUIRES]->(b)
		`, map[string]any{"edges": p.edges}); err != nil {
			return nil, fmt.Errorf("upsert prerequisite edges: %w", err)
		}
		if _, err := tx.Run(ctx, `
			UNWIND $covers AS c
			MATCH (t:Topic {id: c.topic})
			MERGE (ch:Chunk {id: c.chunk})
			MERGE (t)-[:COVERS]->(ch)
		`, map[string]any{"covers": p.covers}); err != nil {
			return nil, fmt.Errorf("upsert chunk links: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("synced topic graph",
		zap.String("session_id", sessionID),
		zap.Int("topics", len(topics)),
		zap.Int("prerequisites", len(p.edges)))
	return nil
}

// Prerequisites returns the IDs of every topic transitively required by topicID.
func (s *Neo4jSink) Prerequisites(ctx context.Context, topicID string) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: s.database})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (:Topic {id: $id})-[:REQUIRES*1..]->(p:Topic)
			RETURN DISTINCT p.id AS id, p.order AS ord
			ORDER BY ord
		`, map[string]any{"id": topicID})
		if err != nil {
			return nil, err
		}
		var ids []string
		for res.Next(ctx) {
			if v, ok := res.Record().Get("id"); ok {
				if id, ok := v.(string); ok {
					ids = append(ids, id)
				}
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query prerequisites: %w", err)
	}
	ids, _ := out.([]string)
	return ids, nil
}

// Close closes the driver.
func (s *Neo4jSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
