// Package syllabus maintains the course topic hierarchy. The hierarchy
// lives in neo4j as (:Module)-[:HAS_TOPIC]->(:Topic) nodes; an Arena is
// materialized from it once per pipeline run so parent resolution is a
// map lookup instead of repeated graph round-trips.
package syllabus

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"go.uber.org/zap"

	"github.com/papertrend/backend/pkg/circuitbreaker"
	"github.com/papertrend/backend/pkg/logger"
	"github.com/papertrend/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// UpsertTopic merges a topic node under its module. Repeated upserts of
// the same id are safe, so re-ingesting a syllabus batch is idempotent.
func (c *Client) UpsertTopic(ctx context.Context, id, name, module string, weight float64) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)

			query := `
				MERGE (m:Module {name: $module})
				MERGE (t:Topic {id: $id})
				SET t.name = $name, t.weight = $weight
				MERGE (m)-[:HAS_TOPIC]->(t)
			`

			_, err := session.Run(ctx, query, map[string]interface{}{
				"id":     id,
				"name":   name,
				"module": module,
				"weight": weight,
			})
			if err != nil {
				return fmt.Errorf("failed to upsert topic: %w", err)
			}
			return nil
		})
	})
}

type edge struct {
	topicID string
	module  string
}

// hierarchyEdge pulls the topic id and module name out of one result
// record. Records with a missing or non-string property are rejected
// rather than trusted; the driver hands back nil for absent properties.
func hierarchyEdge(record *db.Record) (edge, bool) {
	idVal, _ := record.Get("id")
	moduleVal, _ := record.Get("module")

	id, idOK := idVal.(string)
	module, moduleOK := moduleVal.(string)
	if !idOK || !moduleOK || id == "" {
		return edge{}, false
	}
	return edge{topicID: id, module: module}, true
}

// FetchHierarchy reads every module→topic edge from the graph.
func (c *Client) FetchHierarchy(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var edges []edge

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)

			result, err := session.Run(ctx,
				`MATCH (m:Module)-[:HAS_TOPIC]->(t:Topic) RETURN t.id AS id, m.name AS module`,
				nil)
			if err != nil {
				return fmt.Errorf("failed to fetch hierarchy: %w", err)
			}

			edges = edges[:0]
			for result.Next(ctx) {
				record := result.Record()
				e, ok := hierarchyEdge(record)
				if !ok {
					logger.Warn("Skipping malformed hierarchy record",
						zap.Any("record", record.Values))
					continue
				}
				edges = append(edges, e)
			}
			return result.Err()
		})
	})
	if err != nil {
		return nil, err
	}

	hierarchy := make(map[string]string, len(edges))
	for _, e := range edges {
		hierarchy[e.topicID] = e.module
	}

	return hierarchy, nil
}
