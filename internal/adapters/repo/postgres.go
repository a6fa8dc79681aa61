package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Persistence = (*Postgres)(nil)

// allGroups — ключ общего счётчика сообщений в message_counts.
const allGroups = ""

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Migrate создаёт таблицы, если их ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	if err != nil {
		return fmt.Errorf("применение схемы: %w", err)
	}
	return nil
}

func (p *Postgres) GetOrCreateUserModel(ctx context.Context, userID, modelType string) (domain.UserModel, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	model := domain.UserModel{UserID: userID, ModelType: modelType}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO user_models (user_id, model_type) VALUES ($1, $2)
ON CONFLICT (user_id, model_type) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING id
`, userID, modelType).Scan(&model.ID)
	metrics.ObserveNetworkRequest("postgres", "user_models_upsert", "user_models", start, err)
	return model, err
}

func (p *Postgres) GetUserModel(ctx context.Context, userID, modelType string) (domain.UserModel, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	model := domain.UserModel{UserID: userID, ModelType: modelType}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id FROM user_models WHERE user_id = $1 AND model_type = $2`, userID, modelType).Scan(&model.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "user_models_get", "user_models", start, nil)
		return domain.UserModel{}, false, nil
	}
	metrics.ObserveNetworkRequest("postgres", "user_models_get", "user_models", start, err)
	if err != nil {
		return domain.UserModel{}, false, err
	}
	return model, true, nil
}

const entryColumns = `e.id, e.user_model_id, e.scored_term, e.score_sum, e.score_count, e.last_change, e.adapted, e.needs_consolidation, e.time_bins`

func scanEntry(row pgx.Row) (*domain.UserModelEntry, error) {
	var (
		e          domain.UserModelEntry
		scoredTerm []byte
		bins       []byte
	)
	if err := row.Scan(&e.ID, &e.UserModelID, &scoredTerm, &e.ScoreSum, &e.ScoreCount, &e.LastChange, &e.Adapted, &e.NeedsConsolidation, &bins); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scoredTerm, &e.ScoredTerm); err != nil {
		return nil, fmt.Errorf("decode scored term: %w", err)
	}
	if len(bins) > 0 {
		if err := json.Unmarshal(bins, &e.TimeBins); err != nil {
			return nil, fmt.Errorf("decode time bins: %w", err)
		}
	}
	return &e, nil
}

func (p *Postgres) GetUserModelEntries(ctx context.Context, model domain.UserModel, termKeys []string) (map[string]*domain.UserModelEntry, error) {
	out := make(map[string]*domain.UserModelEntry, len(termKeys))
	if len(termKeys) == 0 {
		return out, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+entryColumns+`
FROM user_model_entries e
WHERE e.user_model_id = $1 AND e.term_key = ANY($2)
`, model.ID, termKeys)
	metrics.ObserveNetworkRequest("postgres", "user_model_entries_get", "user_model_entries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.ScoredTerm.Term.Key()] = e
	}
	return out, rows.Err()
}

func (p *Postgres) StoreUserModelEntries(ctx context.Context, model domain.UserModel, entries []*domain.UserModelEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, e := range entries {
		scoredTerm, err := json.Marshal(e.ScoredTerm)
		if err != nil {
			return fmt.Errorf("marshal scored term: %w", err)
		}
		bins, err := json.Marshal(e.TimeBins)
		if err != nil {
			return fmt.Errorf("marshal time bins: %w", err)
		}
		batch.Queue(`
INSERT INTO user_model_entries (user_model_id, term_key, scored_term, score_sum, score_count, last_change, adapted, needs_consolidation, time_bins)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_model_id, term_key) DO UPDATE SET
	scored_term = EXCLUDED.scored_term,
	score_sum = EXCLUDED.score_sum,
	score_count = EXCLUDED.score_count,
	last_change = EXCLUDED.last_change,
	adapted = EXCLUDED.adapted,
	needs_consolidation = EXCLUDED.needs_consolidation,
	time_bins = EXCLUDED.time_bins
RETURNING id
`, model.ID, e.ScoredTerm.Term.Key(), scoredTerm, e.ScoreSum, e.ScoreCount, e.LastChange, e.Adapted, e.NeedsConsolidation, bins)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "user_model_entries_send_batch", "user_model_entries", start, nil)
	defer br.Close()
	for _, e := range entries {
		start = time.Now()
		err := br.QueryRow().Scan(&e.ID)
		metrics.ObserveNetworkRequest("postgres", "user_model_entries_upsert", "user_model_entries", start, err)
		if err != nil {
			return err
		}
		e.UserModelID = model.ID
	}
	return nil
}

func (p *Postgres) RemoveUserModelEntries(ctx context.Context, model domain.UserModel, entries []*domain.UserModelEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.ScoredTerm.Term.Key())
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM user_model_entries WHERE user_model_id = $1 AND term_key = ANY($2)`, model.ID, keys)
	metrics.ObserveNetworkRequest("postgres", "user_model_entries_delete", "user_model_entries", start, err)
	return err
}

func (p *Postgres) ListEntriesNeedingConsolidation(ctx context.Context, limit int) ([]domain.ModelEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT m.id, m.user_id, m.model_type, `+entryColumns+`
FROM user_model_entries e
JOIN user_models m ON m.id = e.user_model_id
WHERE e.needs_consolidation
ORDER BY e.id
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "user_model_entries_list_pending", "user_model_entries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ModelEntry
	for rows.Next() {
		var (
			model      domain.UserModel
			e          domain.UserModelEntry
			scoredTerm []byte
			bins       []byte
		)
		if err := rows.Scan(&model.ID, &model.UserID, &model.ModelType,
			&e.ID, &e.UserModelID, &scoredTerm, &e.ScoreSum, &e.ScoreCount, &e.LastChange, &e.Adapted, &e.NeedsConsolidation, &bins); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scoredTerm, &e.ScoredTerm); err != nil {
			return nil, fmt.Errorf("decode scored term: %w", err)
		}
		if len(bins) > 0 {
			if err := json.Unmarshal(bins, &e.TimeBins); err != nil {
				return nil, fmt.Errorf("decode time bins: %w", err)
			}
		}
		out = append(out, domain.ModelEntry{Model: model, Entry: &e})
	}
	return out, rows.Err()
}

func (p *Postgres) GetOrCreateTerm(ctx context.Context, category, value, groupID string) (domain.Term, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	t := domain.Term{Category: category, Value: value, GroupID: groupID}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO terms (category, value, group_id) VALUES ($1, $2, $3)
ON CONFLICT (category, value, group_id) DO UPDATE SET category = EXCLUDED.category
RETURNING id, count
`, category, value, groupID).Scan(&t.ID, &t.Count)
	metrics.ObserveNetworkRequest("postgres", "terms_upsert", "terms", start, err)
	return t, err
}

func (p *Postgres) UpdateTermCounts(ctx context.Context, messageID, groupID string, terms []domain.Term) ([]domain.Term, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "terms", start, err)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	increment := 1
	if messageID != "" {
		start = time.Now()
		tag, err := tx.Exec(ctx, `
INSERT INTO counted_messages (message_id) VALUES ($1)
ON CONFLICT (message_id) DO NOTHING
`, messageID)
		metrics.ObserveNetworkRequest("postgres", "counted_messages_insert", "counted_messages", start, err)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			increment = 0
		}
	}

	if increment > 0 {
		groups := []string{allGroups}
		if groupID != "" {
			groups = append(groups, groupID)
		}
		for _, g := range groups {
			start = time.Now()
			_, err = tx.Exec(ctx, `
INSERT INTO message_counts (group_id, count) VALUES ($1, 1)
ON CONFLICT (group_id) DO UPDATE SET count = message_counts.count + 1
`, g)
			metrics.ObserveNetworkRequest("postgres", "message_counts_increment", "message_counts", start, err)
			if err != nil {
				return nil, err
			}
		}
	}

	counted := make(map[string]domain.Term, len(terms))
	out := make([]domain.Term, 0, len(terms))
	for _, t := range terms {
		if stored, ok := counted[t.Key()]; ok {
			out = append(out, stored)
			continue
		}
		stored := domain.Term{Category: t.Category, Value: t.Value, GroupID: t.GroupID}
		start = time.Now()
		err = tx.QueryRow(ctx, `
INSERT INTO terms (category, value, group_id, count) VALUES ($1, $2, $3, $4)
ON CONFLICT (category, value, group_id) DO UPDATE SET count = terms.count + EXCLUDED.count
RETURNING id, count
`, t.Category, t.Value, t.GroupID, increment).Scan(&stored.ID, &stored.Count)
		metrics.ObserveNetworkRequest("postgres", "terms_increment", "terms", start, err)
		if err != nil {
			return nil, err
		}
		counted[t.Key()] = stored
		out = append(out, stored)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "terms", start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) GetTermFrequency(ctx context.Context) (domain.TermFrequency, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT group_id, count FROM message_counts`)
	metrics.ObserveNetworkRequest("postgres", "message_counts_list", "message_counts", start, err)
	if err != nil {
		return domain.TermFrequency{}, err
	}
	defer rows.Close()
	tf := domain.TermFrequency{MessageGroupCounts: make(map[string]int64)}
	for rows.Next() {
		var (
			group string
			count int64
		)
		if err := rows.Scan(&group, &count); err != nil {
			return domain.TermFrequency{}, err
		}
		if group == allGroups {
			tf.AllMessageCount = count
			continue
		}
		tf.MessageGroupCounts[group] = count
	}
	return tf, rows.Err()
}

func (p *Postgres) ResetTermFrequency(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "terms", start, err)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE terms SET count = 0`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM message_counts`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM counted_messages`); err != nil {
		return err
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "terms", start, err)
	return err
}

func (p *Postgres) StoreObservation(ctx context.Context, obs domain.Observation) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO observations (id, user_id, type, message_id, observation_date, priority, interest, retraction)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, obs.ID, obs.UserID, string(obs.Type), obs.MessageID, obs.ObservationDate, int(obs.Priority), obs.Interest.String(), obs.Retraction)
	metrics.ObserveNetworkRequest("postgres", "observations_insert", "observations", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) GetObservations(ctx context.Context, userID, messageID string, obsType domain.ObservationType) ([]domain.Observation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, type, message_id, observation_date, priority, interest, retraction
FROM observations
WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR message_id = $2) AND ($3 = '' OR type = $3)
ORDER BY seq
`, userID, messageID, string(obsType))
	metrics.ObserveNetworkRequest("postgres", "observations_list", "observations", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Observation
	for rows.Next() {
		var (
			obs      domain.Observation
			typ      string
			priority int
			interest string
		)
		if err := rows.Scan(&obs.ID, &obs.UserID, &typ, &obs.MessageID, &obs.ObservationDate, &priority, &interest, &obs.Retraction); err != nil {
			return nil, err
		}
		obs.Type = domain.ObservationType(typ)
		obs.Priority = domain.ObservationPriority(priority)
		if obs.Interest, err = domain.ParseInterest(interest); err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (p *Postgres) StoreMessage(ctx context.Context, msg domain.Message) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}
	props, err := json.Marshal(msg.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO messages (global_id, source_id, group_id, author_id, publication_date, parts, properties)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (global_id) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	group_id = EXCLUDED.group_id,
	author_id = EXCLUDED.author_id,
	publication_date = EXCLUDED.publication_date,
	parts = EXCLUDED.parts,
	properties = EXCLUDED.properties
`, msg.GlobalID, msg.SourceID, msg.GroupID, msg.AuthorID, msg.PublicationDate, parts, props)
	metrics.ObserveNetworkRequest("postgres", "messages_upsert", "messages", start, err)
	return err
}

func (p *Postgres) StoreMessageRelation(ctx context.Context, rel domain.MessageRelation) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO message_relations (message_id, root_message_id, related_message_ids)
VALUES ($1,$2,$3)
ON CONFLICT (message_id) DO UPDATE SET
	root_message_id = EXCLUDED.root_message_id,
	related_message_ids = EXCLUDED.related_message_ids
`, rel.MessageID, rel.RootMessageID, rel.RelatedMessageIDs)
	metrics.ObserveNetworkRequest("postgres", "message_relations_upsert", "message_relations", start, err)
	return err
}

const messageColumns = `global_id, source_id, group_id, author_id, publication_date, parts, properties`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		msg   domain.Message
		parts []byte
		props []byte
	)
	if err := row.Scan(&msg.GlobalID, &msg.SourceID, &msg.GroupID, &msg.AuthorID, &msg.PublicationDate, &parts, &props); err != nil {
		return domain.Message{}, err
	}
	if err := json.Unmarshal(parts, &msg.Parts); err != nil {
		return domain.Message{}, fmt.Errorf("decode parts: %w", err)
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &msg.Properties); err != nil {
			return domain.Message{}, fmt.Errorf("decode properties: %w", err)
		}
	}
	return msg, nil
}

func (p *Postgres) GetMessage(ctx context.Context, globalID string) (domain.Message, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	msg, err := scanMessage(p.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE global_id = $1`, globalID))
	metrics.ObserveNetworkRequest("postgres", "messages_get", "messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, ErrNotFound
	}
	return msg, err
}

func (p *Postgres) queryMessages(ctx context.Context, op, query string, args ...any) ([]domain.Message, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (p *Postgres) GetMessagesByIDs(ctx context.Context, globalIDs []string) ([]domain.Message, error) {
	if len(globalIDs) == 0 {
		return nil, nil
	}
	found, err := p.queryMessages(ctx, "messages_get_many", `SELECT `+messageColumns+` FROM messages WHERE global_id = ANY($1)`, globalIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Message, len(found))
	for _, msg := range found {
		byID[msg.GlobalID] = msg
	}
	out := make([]domain.Message, 0, len(found))
	for _, id := range globalIDs {
		if msg, ok := byID[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (p *Postgres) GetMessagesSince(ctx context.Context, since time.Time, groupID string) ([]domain.Message, error) {
	return p.queryMessages(ctx, "messages_list_since", `
SELECT `+messageColumns+`
FROM messages
WHERE publication_date > $1 AND ($2 = '' OR group_id = $2)
ORDER BY publication_date
`, since, groupID)
}

func (p *Postgres) StoreScores(ctx context.Context, scores []domain.UserMessageScore) error {
	if len(scores) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, s := range scores {
		batch.Queue(`
INSERT INTO user_message_scores (message_id, user_id, score, interaction_level, scored_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (message_id, user_id) DO UPDATE SET
	score = EXCLUDED.score,
	interaction_level = EXCLUDED.interaction_level,
	scored_at = EXCLUDED.scored_at
`, s.MessageID, s.UserID, s.Score, string(s.InteractionLevel), s.ScoredAt)
	}
	return p.execBatch(ctx, batch, len(scores), "user_message_scores")
}

func (p *Postgres) StoreFeatures(ctx context.Context, features []domain.MessageFeature) error {
	if len(features) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, f := range features {
		batch.Queue(`
INSERT INTO message_features (message_id, user_id, feature_id, value)
VALUES ($1,$2,$3,$4)
ON CONFLICT (message_id, user_id, feature_id) DO UPDATE SET value = EXCLUDED.value
`, f.MessageID, f.UserID, string(f.FeatureID), f.Value)
	}
	return p.execBatch(ctx, batch, len(features), "message_features")
}

func (p *Postgres) execBatch(ctx context.Context, batch *pgx.Batch, n int, table string) error {
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", table+"_send_batch", table, start, nil)
	defer br.Close()
	for i := 0; i < n; i++ {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", table+"_batch_exec", table, start, err)
		if err != nil {
			return err
		}
	}
	return nil
}
