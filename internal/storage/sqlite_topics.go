package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/bilgi/internal/models"
)

const topicColumns = `id, session_id, title, parent_topic_id, topic_order, keywords, difficulty,
	prerequisites, related_chunk_ids, extraction_confidence, created_at, updated_at`

func scanTopic(sc rowScanner) (*models.Topic, error) {
	var t models.Topic
	var keywords, prereqs, related sql.NullString
	if err := sc.Scan(&t.ID, &t.SessionID, &t.Title, &t.ParentTopicID, &t.Order, &keywords, &t.Difficulty,
		&prereqs, &related, &t.ExtractionConfidence, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	for _, col := range []struct {
		raw sql.NullString
		dst *[]string
	}{{keywords, &t.Keywords}, {prereqs, &t.Prerequisites}, {related, &t.RelatedChunkIDs}} {
		if err := fromJSON(col.raw, col.dst); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func topicArgs(t *models.Topic) ([]any, error) {
	keywords, err := toJSON(t.Keywords)
	if err != nil {
		return nil, err
	}
	prereqs, err := toJSON(t.Prerequisites)
	if err != nil {
		return nil, err
	}
	related, err := toJSON(t.RelatedChunkIDs)
	if err != nil {
		return nil, err
	}
	return []any{t.ID, t.SessionID, t.Title, t.ParentTopicID, t.Order, keywords, string(t.Difficulty),
		prereqs, related, t.ExtractionConfidence, t.CreatedAt, t.UpdatedAt}, nil
}

func insertTopics(ctx context.Context, tx *sql.Tx, topics []*models.Topic) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO topics (`+topicColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, t := range topics {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		args, err := topicArgs(t)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert topic %s: %w", t.ID, err)
		}
	}
	return nil
}

// ReplaceTopics deletes the session's topics (and by cascade their knowledge
// base entries and QA pairs) and inserts topics in one transaction.
func (s *SQLiteStorage) ReplaceTopics(ctx context.Context, sessionID string, topics []*models.Topic) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session topics: %w", err)
	}
	if err := insertTopics(ctx, tx, topics); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendTopics inserts topics in one transaction, keeping existing ones.
func (s *SQLiteStorage) AppendTopics(ctx context.Context, topics []*models.Topic) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTopics(ctx, tx, topics); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTopic rewrites a whole topic row.
func (s *SQLiteStorage) UpdateTopic(ctx context.Context, t *models.Topic) error {
	t.UpdatedAt = time.Now()
	args, err := topicArgs(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE topics SET session_id = ?, title = ?, parent_topic_id = ?, topic_order = ?, keywords = ?,
			difficulty = ?, prerequisites = ?, related_chunk_ids = ?, extraction_confidence = ?, updated_at = ?
		 WHERE id = ?`,
		append(args[1:10], t.UpdatedAt, t.ID)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("topic %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// GetTopic returns a topic by ID.
func (s *SQLiteStorage) GetTopic(ctx context.Context, id string) (*models.Topic, error) {
	t, err := scanTopic(s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return t, err
}

// ListTopics returns the session's topics in curriculum order.
func (s *SQLiteStorage) ListTopics(ctx context.Context, sessionID string) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE session_id = ? ORDER BY topic_order, created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// UpsertKnowledgeBase writes the whole entry for its topic, replacing any previous one.
func (s *SQLiteStorage) UpsertKnowledgeBase(ctx context.Context, e *models.KnowledgeBaseEntry) error {
	concepts, err := toJSON(e.KeyConcepts)
	if err != nil {
		return err
	}
	objectives, err := toJSON(e.LearningObjectives)
	if err != nil {
		return err
	}
	examples, err := toJSON(e.Examples)
	if err != nil {
		return err
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kb_entries (id, topic_id, summary, key_concepts, learning_objectives, examples, quality_score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(topic_id) DO UPDATE SET
			summary = excluded.summary,
			key_concepts = excluded.key_concepts,
			learning_objectives = excluded.learning_objectives,
			examples = excluded.examples,
			quality_score = excluded.quality_score,
			updated_at = excluded.updated_at`,
		e.ID, e.TopicID, e.Summary, concepts, objectives, examples, e.QualityScore, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert knowledge base for %s: %w", e.TopicID, err)
	}
	return nil
}

// GetKnowledgeBase returns the entry of a topic.
func (s *SQLiteStorage) GetKnowledgeBase(ctx context.Context, topicID string) (*models.KnowledgeBaseEntry, error) {
	var e models.KnowledgeBaseEntry
	var concepts, objectives, examples sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, topic_id, summary, key_concepts, learning_objectives, examples, quality_score, created_at, updated_at
		 FROM kb_entries WHERE topic_id = ?`, topicID,
	).Scan(&e.ID, &e.TopicID, &e.Summary, &concepts, &objectives, &examples, &e.QualityScore, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge base for topic %s: %w", topicID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := fromJSON(concepts, &e.KeyConcepts); err != nil {
		return nil, err
	}
	if err := fromJSON(objectives, &e.LearningObjectives); err != nil {
		return nil, err
	}
	if err := fromJSON(examples, &e.Examples); err != nil {
		return nil, err
	}
	return &e, nil
}

const qaColumns = `id, topic_id, session_id, question, answer, explanation, difficulty, bloom_level,
	quality_score, times_asked, average_rating, rating_count, created_at`

func scanQA(sc rowScanner) (*models.QAPair, error) {
	var p models.QAPair
	err := sc.Scan(&p.ID, &p.TopicID, &p.SessionID, &p.Question, &p.Answer, &p.Explanation, &p.Difficulty, &p.BloomLevel,
		&p.QualityScore, &p.TimesAsked, &p.AverageRating, &p.RatingCount, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStorage) queryQA(ctx context.Context, query string, args ...any) ([]*models.QAPair, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*models.QAPair
	for rows.Next() {
		p, err := scanQA(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// CreateQAPairs inserts pairs in one transaction.
func (s *SQLiteStorage) CreateQAPairs(ctx context.Context, pairs []*models.QAPair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO qa_pairs (`+qaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range pairs {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.TopicID, p.SessionID, p.Question, p.Answer, p.Explanation,
			string(p.Difficulty), string(p.BloomLevel), p.QualityScore, p.TimesAsked, p.AverageRating, p.RatingCount, p.CreatedAt); err != nil {
			return fmt.Errorf("insert qa pair %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// GetQAPair returns a QA pair by ID.
func (s *SQLiteStorage) GetQAPair(ctx context.Context, id string) (*models.QAPair, error) {
	p, err := scanQA(s.db.QueryRowContext(ctx, `SELECT `+qaColumns+` FROM qa_pairs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("qa pair %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListQAPairsByTopic returns the QA pairs of the given topics, oldest first.
func (s *SQLiteStorage) ListQAPairsByTopic(ctx context.Context, topicIDs ...string) ([]*models.QAPair, error) {
	if len(topicIDs) == 0 {
		return nil, nil
	}
	return s.queryQA(ctx,
		`SELECT `+qaColumns+` FROM qa_pairs WHERE topic_id IN (`+placeholders(len(topicIDs))+`) ORDER BY created_at, id`,
		stringArgs(topicIDs)...)
}

// ListQAPairsBySession returns every QA pair of a session, oldest first.
func (s *SQLiteStorage) ListQAPairsBySession(ctx context.Context, sessionID string) ([]*models.QAPair, error) {
	return s.queryQA(ctx, `SELECT `+qaColumns+` FROM qa_pairs WHERE session_id = ? ORDER BY created_at, id`, sessionID)
}

// IncrementTimesAsked adds one to times_asked in a single statement.
func (s *SQLiteStorage) IncrementTimesAsked(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE qa_pairs SET times_asked = times_asked + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("qa pair %s: %w", id, ErrNotFound)
	}
	return nil
}

// RateQAPair folds rating into the running average in a single statement.
func (s *SQLiteStorage) RateQAPair(ctx context.Context, id string, rating float64) (*models.QAPair, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE qa_pairs
		 SET average_rating = (average_rating * rating_count + ?) / (rating_count + 1),
			rating_count = rating_count + 1
		 WHERE id = ?`, rating, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("qa pair %s: %w", id, ErrNotFound)
	}
	return s.GetQAPair(ctx, id)
}
