package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/bilgi/pkg/utils"
)

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming). Text is case-folded
	// before indexing so Turkish dotted/dotless i match across cases.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	keywordFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("session_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("topic_id", keywordFieldMapping)
	im.AddDocumentMapping("record", docMapping)
	im.DefaultType = "record"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates
// an in-memory index.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := newMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func recordDoc(rec *Record) map[string]interface{} {
	return map[string]interface{}{
		"kind":       rec.Kind,
		"session_id": rec.SessionID,
		"topic_id":   rec.TopicID,
		"title":      utils.FoldCase(rec.Title),
		"content":    utils.FoldCase(rec.Content),
	}
}

// Index indexes a record by its ID, replacing any previous version.
func (b *BleveIndex) Index(ctx context.Context, rec *Record) error {
	return b.index.Index(rec.ID, recordDoc(rec))
}

// IndexBatch indexes records in a single Bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, rec := range recs {
		if err := batch.Index(rec.ID, recordDoc(rec)); err != nil {
			return fmt.Errorf("batch index %s: %w", rec.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Search runs a match query over title and content, restricted by opts filters,
// and returns up to limit results by descending BM25 score.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	folded := utils.FoldCase(query)
	if len(tokenizeQuery(folded)) == 0 || limit <= 0 {
		return nil, nil
	}
	titleBoost := 1.0
	if opts.TitleBoost > 0 {
		titleBoost = opts.TitleBoost
	}
	fuzziness := 1
	if opts.Fuzziness > 0 {
		fuzziness = opts.Fuzziness
	}

	var titleQ, contentQ blevequery.Query
	if opts.FuzzyEnabled {
		titleQ = buildFuzzyQuery(folded, fuzziness, "title", titleBoost)
		contentQ = buildFuzzyQuery(folded, fuzziness, "content", 1)
	} else {
		tq := bleve.NewMatchQuery(folded)
		tq.SetField("title")
		tq.SetBoost(titleBoost)
		titleQ = tq
		cq := bleve.NewMatchQuery(folded)
		cq.SetField("content")
		contentQ = cq
	}
	text := bleve.NewDisjunctionQuery(titleQ, contentQ)

	conjuncts := []blevequery.Query{text}
	if opts.Kind != "" {
		conjuncts = append(conjuncts, termQuery("kind", opts.Kind))
	}
	if opts.SessionID != "" {
		conjuncts = append(conjuncts, termQuery("session_id", opts.SessionID))
	}
	if len(opts.TopicIDs) > 0 {
		topicQs := make([]blevequery.Query, 0, len(opts.TopicIDs))
		for _, id := range opts.TopicIDs {
			topicQs = append(topicQs, termQuery("topic_id", id))
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(topicQs...))
	}

	var q blevequery.Query = text
	if len(conjuncts) > 1 {
		q = bleve.NewConjunctionQuery(conjuncts...)
	}
	search := bleve.NewSearchRequest(q)
	search.Size = limit
	search.Fields = []string{"kind", "topic_id"}
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		r := &KeywordResult{ID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["kind"].(string); ok {
			r.Kind = v
		}
		if v, ok := hit.Fields["topic_id"].(string); ok {
			r.TopicID = v
		}
		out[i] = r
	}
	return out, nil
}

func termQuery(field, value string) blevequery.Query {
	tq := bleve.NewTermQuery(value)
	tq.SetField(field)
	return tq
}

// tokenizeQuery splits query into terms on non-letter/digit runes.
func tokenizeQuery(query string) []string {
	return utils.Tokens(query)
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries for each term in the query,
// restricted to field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string, boost float64) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes records from the index.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of records in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
