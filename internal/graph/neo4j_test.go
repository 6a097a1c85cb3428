package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hyperjump/bilgi/internal/models"
)

func TestBuildParams(t *testing.T) {
	topics := []*models.Topic{
		{ID: "t1", Title: "Atoms", Order: 1, Difficulty: models.DifficultyBeginner, RelatedChunkIDs: []string{"c1", "c2"}},
		{ID: "t2", Title: "Bonds", Order: 2, Prerequisites: []string{"t1"}, RelatedChunkIDs: []string{"c3"}},
	}
	p := buildParams(topics)
	if len(p.topicIDs) != 2 || len(p.topics) != 2 {
		t.Fatalf("topics=%d", len(p.topics))
	}
	if p.topics[0]["difficulty"] != "beginner" || p.topics[1]["order"] != 2 {
		t.Errorf("topic rows=%v", p.topics)
	}
	if len(p.edges) != 1 || p.edges[0]["from"] != "t2" || p.edges[0]["to"] != "t1" {
		t.Errorf("edges=%v", p.edges)
	}
	if len(p.covers) != 3 {
		t.Errorf("covers=%v", p.covers)
	}
}

func TestNeo4jSink_Integration(t *testing.T) {
	uri := os.Getenv("BILGI_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("BILGI_TEST_NEO4J_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sink, err := NewNeo4jSink(ctx, uri, os.Getenv("BILGI_TEST_NEO4J_USER"), os.Getenv("BILGI_TEST_NEO4J_PASSWORD"), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close(ctx)

	topics := []*models.Topic{
		{ID: "it_t1", Title: "Atoms", Order: 1},
		{ID: "it_t2", Title: "Bonds", Order: 2, Prerequisites: []string{"it_t1"}},
		{ID: "it_t3", Title: "Geometry", Order: 3, Prerequisites: []string{"it_t2"}},
	}
	if err := sink.SyncTopics(ctx, "it_session", topics); err != nil {
		t.Fatal(err)
	}
	ids, err := sink.Prerequisites(ctx, "it_t3")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "it_t1" || ids[1] != "it_t2" {
		t.Errorf("prerequisites=%v", ids)
	}
}
